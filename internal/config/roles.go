package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"hub/internal/identity"
	"hub/pkg/logging"
)

// roleFile is the shape of one YAML role definition file.
type roleFile struct {
	Roles []struct {
		Name        string   `yaml:"name"`
		Description string   `yaml:"description"`
		Scopes      []string `yaml:"scopes"`
	} `yaml:"roles"`
}

// LoadRoles reads every YAML file in dir into role definitions. A missing
// directory yields no roles.
func LoadRoles(dir string) ([]*identity.Role, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading roles dir %s: %w", dir, err)
	}

	var roles []*identity.Role
	for _, entry := range entries {
		if entry.IsDir() || !isYAMLFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading role file %s: %w", path, err)
		}
		var rf roleFile
		if err := yaml.Unmarshal(data, &rf); err != nil {
			return nil, fmt.Errorf("parsing role file %s: %w", path, err)
		}
		for _, r := range rf.Roles {
			if r.Name == "" {
				return nil, fmt.Errorf("role file %s: role without a name", path)
			}
			roles = append(roles, &identity.Role{
				Name:        r.Name,
				Description: r.Description,
				Scopes:      r.Scopes,
			})
		}
	}
	return roles, nil
}

func isYAMLFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// RoleWatcher reloads role definitions when files in the roles directory
// change. Events are debounced; the callback receives the full reloaded
// set, not a delta.
type RoleWatcher struct {
	dir      string
	debounce time.Duration
	onChange func([]*identity.Role)

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	timer   *time.Timer
	running bool
}

// NewRoleWatcher creates a watcher over dir. onChange fires after each
// debounced batch of filesystem events.
func NewRoleWatcher(dir string, onChange func([]*identity.Role)) *RoleWatcher {
	return &RoleWatcher{
		dir:      dir,
		debounce: 500 * time.Millisecond,
		onChange: onChange,
	}
}

// Start begins watching until ctx ends. A nonexistent directory is not
// an error; the watcher simply never fires.
func (w *RoleWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	if _, err := os.Stat(w.dir); os.IsNotExist(err) {
		logging.Info("Config", "roles dir %s does not exist, role reload disabled", w.dir)
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(w.dir); err != nil {
		watcher.Close()
		return err
	}
	w.watcher = watcher
	w.running = true

	go w.loop(ctx)
	logging.Info("Config", "watching %s for role definition changes", w.dir)
	return nil
}

func (w *RoleWatcher) loop(ctx context.Context) {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.running = false
			w.mu.Unlock()
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isYAMLFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn("Config", "role watcher error: %v", err)
		}
	}
}

// scheduleReload coalesces bursts of events into one reload.
func (w *RoleWatcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *RoleWatcher) reload() {
	roles, err := LoadRoles(w.dir)
	if err != nil {
		logging.Error("Config", err, "reloading role definitions failed")
		return
	}
	logging.Info("Config", "reloaded %d role definitions", len(roles))
	w.onChange(roles)
}
