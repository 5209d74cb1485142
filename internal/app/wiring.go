package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"hub/internal/authenticator"
	"hub/internal/config"
	"hub/internal/identity"
	"hub/internal/scope"
	"hub/internal/spawner"
	"hub/pkg/logging"
)

func buildStore(ctx context.Context, cfg config.DatabaseConfig) (identity.Store, error) {
	switch cfg.Driver {
	case "memory":
		logging.Info("App", "using in-memory identity store")
		return identity.NewMemoryStore(), nil
	case "postgres":
		store, err := identity.OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("opening postgres store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func buildAuthenticator(cfg config.AuthConfig) (authenticator.Authenticator, *authenticator.OAuth2Authenticator, error) {
	switch cfg.Backend {
	case "password":
		hashes := map[string]string{}
		if cfg.PasswordFile != "" {
			var err error
			hashes, err = config.LoadPasswords(cfg.PasswordFile)
			if err != nil {
				return nil, nil, err
			}
		}
		auth, err := authenticator.NewPasswordAuthenticator(hashes)
		return auth, nil, err
	case "header":
		auth, err := authenticator.NewTrustedHeaderAuthenticator(
			cfg.Header.UserHeader, cfg.Header.SecretHeader, cfg.Header.Secret)
		return auth, nil, err
	case "oauth2":
		o := cfg.OAuth2
		oauth, err := authenticator.NewOAuth2Authenticator(authenticator.OAuth2Config{
			ClientID:      o.ClientID,
			ClientSecret:  o.ClientSecret,
			AuthURL:       o.AuthURL,
			TokenURL:      o.TokenURL,
			UserInfoURL:   o.UserInfoURL,
			RedirectURL:   o.RedirectURL,
			Scopes:        o.Scopes,
			UsernameClaim: o.UsernameClaim,
			GroupsClaim:   o.GroupsClaim,
			AdminGroup:    o.AdminGroup,
		})
		return nil, oauth, err
	default:
		return nil, nil, fmt.Errorf("unknown auth backend %q", cfg.Backend)
	}
}

func buildSpawner(cfg config.SpawnerConfig) (spawner.Spawner, error) {
	switch cfg.Backend {
	case "local":
		return spawner.NewLocal(cfg.Command, cfg.Env, cfg.StopTimeout)
	case "kubernetes":
		k := cfg.Kubernetes
		var restCfg *rest.Config
		var err error
		if k.Kubeconfig != "" {
			restCfg, err = clientcmd.BuildConfigFromFlags("", k.Kubeconfig)
		} else {
			restCfg, err = rest.InClusterConfig()
		}
		if err != nil {
			return nil, fmt.Errorf("kubernetes config: %w", err)
		}
		clientset, err := kubernetes.NewForConfig(restCfg)
		if err != nil {
			return nil, err
		}
		var podTemplate []byte
		if k.PodTemplateFile != "" {
			podTemplate, err = os.ReadFile(k.PodTemplateFile)
			if err != nil {
				return nil, fmt.Errorf("reading pod template: %w", err)
			}
		}
		return spawner.NewKubernetes(clientset, spawner.KubernetesConfig{
			Namespace:    k.Namespace,
			Image:        k.Image,
			Command:      cfg.Command,
			Env:          cfg.Env,
			PodTemplate:  podTemplate,
			StartTimeout: k.StartTimeout,
			StopTimeout:  k.StopTimeout,
		})
	default:
		return nil, fmt.Errorf("unknown spawner backend %q", cfg.Backend)
	}
}

// applyRoles upserts role definitions from the roles directory. Managed
// roles and roles with unparsable scopes are skipped so a bad file
// cannot dismantle the defaults.
func applyRoles(ctx context.Context, store identity.Store, roles []*identity.Role) {
	for _, role := range roles {
		if !validRoleScopes(role.Scopes) {
			logging.Warn("App", "skipping role %s: invalid scope list", role.Name)
			continue
		}
		existing, err := store.GetRole(ctx, role.Name)
		switch {
		case errors.Is(err, identity.ErrNotFound):
			if err := store.CreateRole(ctx, role); err != nil {
				logging.Warn("App", "creating role %s: %v", role.Name, err)
			}
		case err != nil:
			logging.Warn("App", "loading role %s: %v", role.Name, err)
		case existing.Managed:
			logging.Warn("App", "skipping role %s: managed roles cannot be redefined", role.Name)
		default:
			if err := store.UpdateRole(ctx, role); err != nil {
				logging.Warn("App", "updating role %s: %v", role.Name, err)
			}
		}
	}
}

func validRoleScopes(scopes []string) bool {
	for _, raw := range scopes {
		if scope.IsMeta(raw) || raw == scope.Wildcard {
			continue
		}
		if _, err := scope.Parse(raw); err != nil {
			return false
		}
	}
	return true
}
