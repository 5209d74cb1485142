package authenticator

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"hub/pkg/logging"
)

// OAuth2Config configures the OAuth2 backend.
type OAuth2Config struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	RedirectURL  string
	Scopes       []string

	// UsernameClaim is the userinfo field carrying the username.
	// Defaults to "preferred_username".
	UsernameClaim string
	// GroupsClaim, when set, maps a userinfo list field to group hints.
	GroupsClaim string
	// AdminGroup, when set, marks members of that provider group as hub
	// admins. Absence demotes, so admin status follows the provider.
	AdminGroup string
}

// OAuth2Authenticator drives an authorization-code login against an
// external provider. The flow is interactive: LoginURL starts it and
// Complete finishes it from the callback handler.
type OAuth2Authenticator struct {
	cfg    OAuth2Config
	oauth  *oauth2.Config
	client *http.Client
}

// NewOAuth2Authenticator validates the config and builds the backend.
func NewOAuth2Authenticator(cfg OAuth2Config) (*OAuth2Authenticator, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("oauth2: client id and secret are required")
	}
	if cfg.AuthURL == "" || cfg.TokenURL == "" || cfg.UserInfoURL == "" {
		return nil, fmt.Errorf("oauth2: auth, token and userinfo URLs are required")
	}
	if cfg.UsernameClaim == "" {
		cfg.UsernameClaim = "preferred_username"
	}
	return &OAuth2Authenticator{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
			RedirectURL: cfg.RedirectURL,
			Scopes:      cfg.Scopes,
		},
		client: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// NewState mints an unguessable state parameter for one login attempt. The
// caller binds it to the browser session and checks it in the callback.
func NewState() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating oauth state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// LoginURL returns the provider URL to redirect the browser to.
func (a *OAuth2Authenticator) LoginURL(state string) string {
	return a.oauth.AuthCodeURL(state)
}

// Complete exchanges the callback code and resolves the provider identity.
func (a *OAuth2Authenticator) Complete(ctx context.Context, code string) (*Identity, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.client)
	token, err := a.oauth.Exchange(ctx, code)
	if err != nil {
		logging.Warn("Authenticator", "oauth2 code exchange failed: %v", err)
		return nil, ErrInvalidCredentials
	}
	return a.fetchIdentity(ctx, token)
}

func (a *OAuth2Authenticator) fetchIdentity(ctx context.Context, token *oauth2.Token) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.UserInfoURL, nil)
	if err != nil {
		return nil, err
	}
	token.SetAuthHeader(req)
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching userinfo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo endpoint returned %d", resp.StatusCode)
	}

	var claims map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, fmt.Errorf("decoding userinfo: %w", err)
	}

	rawName, _ := claims[a.cfg.UsernameClaim].(string)
	name, err := NormalizeUsername(rawName)
	if err != nil {
		return nil, fmt.Errorf("userinfo claim %q: %w", a.cfg.UsernameClaim, err)
	}
	id := &Identity{Username: name}

	if a.cfg.GroupsClaim != "" {
		groups := stringList(claims[a.cfg.GroupsClaim])
		id.Groups = groups
		if a.cfg.AdminGroup != "" {
			admin := false
			for _, g := range groups {
				if g == a.cfg.AdminGroup {
					admin = true
					break
				}
			}
			id.Admin = &admin
		}
	}
	return id, nil
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
