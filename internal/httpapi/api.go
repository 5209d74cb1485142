package httpapi

import (
	"net/http"
	"time"

	"hub/internal/authenticator"
	"hub/internal/hub"
	"hub/internal/identity"
	"hub/internal/obs"
)

// APIPrefix is the path prefix of the REST surface. The reverse proxy
// routes everything under it to the hub process.
const APIPrefix = "/hub/api"

// Config carries the HTTP-layer knobs.
type Config struct {
	Version string

	// ProxyToken guards the activity report endpoint used by the
	// external proxy.
	ProxyToken string

	// SessionSecret signs browser session cookies.
	SessionSecret []byte
	SessionTTL    time.Duration

	// RateBurst/RatePerSecond bound per-client request rates. Zero
	// disables rate limiting.
	RateBurst     int
	RatePerSecond int

	// MaxBodyBytes caps request body sizes.
	MaxBodyBytes int64
}

func (c *Config) applyDefaults() {
	if c.SessionTTL <= 0 {
		c.SessionTTL = 14 * 24 * time.Hour
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}
}

// API is the hub's REST surface.
type API struct {
	mux      *http.ServeMux
	store    identity.Store
	resolver *identity.Resolver
	hub      *hub.Hub
	auth     authenticator.Authenticator
	oauth    *authenticator.OAuth2Authenticator
	sessions *SessionManager
	cfg      Config
}

// New builds the API over its collaborators. auth may be nil when only
// token access is wanted; oauth may be nil when no OAuth2 backend is
// configured.
func New(store identity.Store, resolver *identity.Resolver, h *hub.Hub,
	auth authenticator.Authenticator, oauth *authenticator.OAuth2Authenticator, cfg Config) *API {
	cfg.applyDefaults()
	a := &API{
		mux:      http.NewServeMux(),
		store:    store,
		resolver: resolver,
		hub:      h,
		auth:     auth,
		oauth:    oauth,
		sessions: NewSessionManager(cfg.SessionSecret, cfg.SessionTTL),
		cfg:      cfg,
	}
	a.routes()
	return a
}

func (a *API) routes() {
	m := a.mux

	m.HandleFunc("GET /healthz", a.handleHealthz)
	m.Handle("GET /metrics", obs.Handler())

	// login surfaces
	m.HandleFunc("POST /hub/login", a.handleLogin)
	m.HandleFunc("GET /hub/logout", a.handleLogout)
	m.HandleFunc("GET /hub/oauth/login", a.handleOAuthLogin)
	m.HandleFunc("GET /hub/oauth/callback", a.handleOAuthCallback)

	m.HandleFunc("GET "+APIPrefix+"/{$}", a.handleInfo)
	m.HandleFunc("GET "+APIPrefix+"/info", a.handleInfo)

	// users
	m.HandleFunc("GET "+APIPrefix+"/users", a.handleListUsers)
	m.HandleFunc("POST "+APIPrefix+"/users", a.handleCreateUser)
	m.HandleFunc("GET "+APIPrefix+"/users/{user}", a.handleGetUser)
	m.HandleFunc("DELETE "+APIPrefix+"/users/{user}", a.handleDeleteUser)
	m.HandleFunc("POST "+APIPrefix+"/users/{user}/activity", a.handleUserActivity)

	// servers: the bare form addresses the user's default server
	m.HandleFunc("POST "+APIPrefix+"/users/{user}/server", a.handleStartServer)
	m.HandleFunc("DELETE "+APIPrefix+"/users/{user}/server", a.handleStopServer)
	m.HandleFunc("GET "+APIPrefix+"/users/{user}/server/progress", a.handleServerProgress)
	m.HandleFunc("POST "+APIPrefix+"/users/{user}/servers/{server}", a.handleStartServer)
	m.HandleFunc("DELETE "+APIPrefix+"/users/{user}/servers/{server}", a.handleStopServer)
	m.HandleFunc("GET "+APIPrefix+"/users/{user}/servers/{server}/progress", a.handleServerProgress)

	// tokens
	m.HandleFunc("GET "+APIPrefix+"/users/{user}/tokens", a.handleListTokens)
	m.HandleFunc("POST "+APIPrefix+"/users/{user}/tokens", a.handleCreateToken)
	m.HandleFunc("GET "+APIPrefix+"/users/{user}/tokens/{id}", a.handleGetToken)
	m.HandleFunc("DELETE "+APIPrefix+"/users/{user}/tokens/{id}", a.handleDeleteToken)

	// roles
	m.HandleFunc("GET "+APIPrefix+"/roles", a.handleListRoles)
	m.HandleFunc("POST "+APIPrefix+"/roles", a.handleCreateRole)
	m.HandleFunc("GET "+APIPrefix+"/roles/{name}", a.handleGetRole)
	m.HandleFunc("PUT "+APIPrefix+"/roles/{name}", a.handleUpdateRole)
	m.HandleFunc("DELETE "+APIPrefix+"/roles/{name}", a.handleDeleteRole)
	m.HandleFunc("PUT "+APIPrefix+"/users/{user}/roles", a.handleSetUserRoles)

	// groups
	m.HandleFunc("GET "+APIPrefix+"/groups", a.handleListGroups)
	m.HandleFunc("POST "+APIPrefix+"/groups", a.handleCreateGroup)
	m.HandleFunc("GET "+APIPrefix+"/groups/{name}", a.handleGetGroup)
	m.HandleFunc("DELETE "+APIPrefix+"/groups/{name}", a.handleDeleteGroup)
	m.HandleFunc("PUT "+APIPrefix+"/groups/{name}/members", a.handleSetGroupMembers)
	m.HandleFunc("PUT "+APIPrefix+"/groups/{name}/roles", a.handleSetGroupRoles)

	// services
	m.HandleFunc("GET "+APIPrefix+"/services", a.handleListServices)
	m.HandleFunc("POST "+APIPrefix+"/services", a.handleCreateService)
	m.HandleFunc("GET "+APIPrefix+"/services/{name}", a.handleGetService)
	m.HandleFunc("DELETE "+APIPrefix+"/services/{name}", a.handleDeleteService)

	// shares
	m.HandleFunc("GET "+APIPrefix+"/shares/{owner}/{server}", a.handleListShares)
	m.HandleFunc("POST "+APIPrefix+"/shares/{owner}/{server}", a.handleCreateShare)
	m.HandleFunc("DELETE "+APIPrefix+"/shares/{owner}/{server}", a.handleDeleteShare)

	// proxy activity reports
	m.HandleFunc("POST "+APIPrefix+"/activity", a.handleProxyActivity)
}

// Handler returns the fully wrapped handler chain.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.cfg.MaxBodyBytes)
	if a.cfg.RatePerSecond > 0 {
		h = RateLimit(h, a.cfg.RateBurst, a.cfg.RatePerSecond)
	}
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": a.cfg.Version,
	})
}

func (a *API) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "hub",
		"version": a.cfg.Version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}
