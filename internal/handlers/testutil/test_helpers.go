package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/ticketdesk/internal/api"
	"github.com/charlesng35/ticketdesk/internal/app"
	iauth "github.com/charlesng35/ticketdesk/internal/auth"
	"github.com/charlesng35/ticketdesk/internal/changefeed"
	sharedtestutil "github.com/charlesng35/ticketdesk/internal/database/testutil"
	"github.com/charlesng35/ticketdesk/internal/desk"
	"github.com/charlesng35/ticketdesk/internal/realtime"
	"github.com/charlesng35/ticketdesk/internal/services"
	"github.com/charlesng35/ticketdesk/internal/workflow"
	"github.com/charlesng35/ticketdesk/pkg/response"
)

// TestPublicKey is the VAPID public key the test environment advertises. Handlers treat it as opaque.
const TestPublicKey = "test-vapid-public-key"

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T        *testing.T
	DB       *gorm.DB
	Feed     *changefeed.Feed
	Hub      *realtime.Hub
	Router   *gin.Engine
	JWT      *iauth.JWTService
	Services api.Services
}

// EnvOption customises NewEnv.
type EnvOption func(*app.Config)

// WithDefaultResolver assigns new tickets to resolverID when none is chosen.
func WithDefaultResolver(resolverID string) EnvOption {
	return func(cfg *app.Config) {
		cfg.Workflow.DefaultResolver = resolverID
	}
}

// NewEnv provisions a fresh handler test environment with the change capture plugin installed.
func NewEnv(t *testing.T, opts ...EnvOption) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	feed := changefeed.New()
	t.Cleanup(feed.Close)

	db := sharedtestutil.MustOpenTestDB(t,
		sharedtestutil.WithPlugin(changefeed.NewCapture(feed, desk.ObservedTables()...)),
		sharedtestutil.WithAutoMigrate(),
	)

	jwtSecret := "test-suite-super-secret-key-32-bytes!!"
	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         jwtSecret,
		Issuer:         "test-suite",
		AccessTokenTTL: time.Hour,
	})
	require.NoError(t, err)

	cfg := &app.Config{
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{Secret: jwtSecret, Issuer: "test-suite", TTL: time.Hour},
		},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	tickets, err := services.NewTicketService(db, services.WithDefaultResolver(cfg.Workflow.DefaultResolver))
	require.NoError(t, err)
	chat, err := services.NewChatService(db, tickets)
	require.NoError(t, err)
	profiles, err := services.NewProfileService(db)
	require.NoError(t, err)
	pushSvc, err := services.NewPushService(db, services.WithPublicKey(TestPublicKey))
	require.NoError(t, err)

	hub := realtime.NewHub(feed)
	t.Cleanup(hub.Close)

	svc := api.Services{Tickets: tickets, Chat: chat, Profiles: profiles, Push: pushSvc, Hub: hub}
	router, err := api.NewRouter(db, jwtSvc, cfg, svc, nil)
	require.NoError(t, err)

	return &Env{
		T:        t,
		DB:       db,
		Feed:     feed,
		Hub:      hub,
		Router:   router,
		JWT:      jwtSvc,
		Services: svc,
	}
}

// Token issues an access token for userID with role.
func (e *Env) Token(userID string, role workflow.Role) string {
	e.T.Helper()
	token, err := e.JWT.GenerateAccessToken(iauth.AccessTokenInput{
		UserID: userID,
		Email:  userID + "@example.com",
		Role:   role,
	})
	require.NoError(e.T, err)
	return token
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(e.T, err)
		reader = bytes.NewReader(payload)
	}

	var req *http.Request
	if reader != nil {
		req = httptest.NewRequest(method, path, reader)
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
