// Package client talks to a ticketdesk server: a REST client for the record store operations
// and a websocket client that exposes the server's change feed as a local one.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charlesng35/ticketdesk/internal/desk"
	"github.com/charlesng35/ticketdesk/internal/models"
	"github.com/charlesng35/ticketdesk/internal/services"
	"github.com/charlesng35/ticketdesk/internal/session"
	apperrors "github.com/charlesng35/ticketdesk/pkg/errors"
)

const maxResponseSize = 8 << 20

// APIConfig holds the server address and credentials.
type APIConfig struct {
	// BaseURL is the server root, e.g. "http://localhost:8000".
	BaseURL string
	// Token is the bearer access token.
	Token string
	// HTTPClient is used for all requests. If nil, a client with a 30s timeout is used.
	HTTPClient *http.Client
}

// API is a REST client for one authenticated session.
type API struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewAPI validates cfg and builds a client.
func NewAPI(cfg APIConfig) (*API, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("client: base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("client: invalid base url %q: %w", cfg.BaseURL, err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &API{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: httpClient,
	}, nil
}

// Me returns the caller's profile.
func (a *API) Me(ctx context.Context) (*models.Profile, error) {
	var profile models.Profile
	if err := a.do(ctx, http.MethodGet, "/api/profile/me", nil, nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// Session resolves the caller's profile into a session.
func (a *API) Session(ctx context.Context) (session.Session, error) {
	profile, err := a.Me(ctx)
	if err != nil {
		return session.Session{}, err
	}
	return session.New(profile.ID, profile.Email, profile.Role)
}

// CreateTicket submits a new ticket.
func (a *API) CreateTicket(ctx context.Context, input services.CreateTicketInput) (*models.Ticket, error) {
	var ticket models.Ticket
	if err := a.do(ctx, http.MethodPost, "/api/tickets", nil, input, &ticket); err != nil {
		return nil, err
	}
	return &ticket, nil
}

// List implements desk.TicketSource. The server scopes the listing to the caller, so only the
// status and the assigned-to-me switch travel.
func (a *API) List(ctx context.Context, query desk.Query) ([]models.Ticket, error) {
	values := url.Values{}
	if query.Status != "" {
		values.Set("status", string(query.Status))
	}
	if query.AssignedResolver != "" {
		values.Set("assigned", "me")
	}
	if query.Limit > 0 {
		values.Set("limit", strconv.Itoa(query.Limit))
	}
	var tickets []models.Ticket
	if err := a.do(ctx, http.MethodGet, "/api/tickets", values, nil, &tickets); err != nil {
		return nil, err
	}
	return tickets, nil
}

// Get implements desk.TicketSource. Opening a ticket as a resolver acknowledges it server side.
func (a *API) Get(ctx context.Context, _ session.Session, id uint64) (*models.Ticket, error) {
	var ticket models.Ticket
	if err := a.do(ctx, http.MethodGet, ticketPath(id), nil, nil, &ticket); err != nil {
		return nil, err
	}
	return &ticket, nil
}

// Acknowledge implements desk.TicketSource.
func (a *API) Acknowledge(ctx context.Context, sess session.Session, id uint64) (*models.Ticket, error) {
	return a.Get(ctx, sess, id)
}

// Start moves a ticket to in_progress.
func (a *API) Start(ctx context.Context, id uint64, note string) (*models.Ticket, error) {
	return a.transition(ctx, id, "start", map[string]string{"note": note})
}

// Complete resolves a ticket.
func (a *API) Complete(ctx context.Context, id uint64, note string) (*models.Ticket, error) {
	return a.transition(ctx, id, "complete", map[string]string{"note": note})
}

// Reject closes a ticket with a reason.
func (a *API) Reject(ctx context.Context, id uint64, reason string) (*models.Ticket, error) {
	return a.transition(ctx, id, "reject", map[string]string{"reason": reason})
}

// Reassign hands a ticket to another resolver.
func (a *API) Reassign(ctx context.Context, id uint64, resolverID string) (*models.Ticket, error) {
	return a.transition(ctx, id, "reassign", map[string]string{"resolver": resolverID})
}

func (a *API) transition(ctx context.Context, id uint64, action string, body any) (*models.Ticket, error) {
	var ticket models.Ticket
	if err := a.do(ctx, http.MethodPost, ticketPath(id)+"/"+action, nil, body, &ticket); err != nil {
		return nil, err
	}
	return &ticket, nil
}

// History implements chat.Store.
func (a *API) History(ctx context.Context, _ session.Session, ticketID uint64) ([]models.TicketMessage, error) {
	var messages []models.TicketMessage
	if err := a.do(ctx, http.MethodGet, ticketPath(ticketID)+"/messages", nil, nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// Post implements chat.Store.
func (a *API) Post(ctx context.Context, _ session.Session, ticketID uint64, body string) (*models.TicketMessage, error) {
	var message models.TicketMessage
	if err := a.do(ctx, http.MethodPost, ticketPath(ticketID)+"/messages", nil, map[string]string{"body": body}, &message); err != nil {
		return nil, err
	}
	return &message, nil
}

// PublicKey implements push.KeyProvider.
func (a *API) PublicKey(ctx context.Context) (string, error) {
	var out struct {
		PublicKey string `json:"public_key"`
	}
	if err := a.do(ctx, http.MethodGet, "/api/push/public-key", nil, nil, &out); err != nil {
		return "", err
	}
	return out.PublicKey, nil
}

// SaveDescriptor implements push.DescriptorStore. The server keys the descriptor by the token's
// user, so userID is not sent.
func (a *API) SaveDescriptor(ctx context.Context, _ string, descriptor models.PushDescriptor) error {
	return a.do(ctx, http.MethodPut, "/api/push/subscription", nil, descriptor, nil)
}

// DeleteDescriptor removes the caller's push descriptor.
func (a *API) DeleteDescriptor(ctx context.Context) error {
	return a.do(ctx, http.MethodDelete, "/api/push/subscription", nil, nil, nil)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *API) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	requestURL := a.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, reader)
	if err != nil {
		return fmt.Errorf("client: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("client: read response: %w", err)
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("client: unexpected %d response from %s %s: %s", resp.StatusCode, method, path, string(raw))
	}
	if !env.Success || resp.StatusCode >= http.StatusBadRequest {
		appErr := apperrors.New("REQUEST_FAILED", http.StatusText(resp.StatusCode), resp.StatusCode)
		if env.Error != nil {
			appErr = apperrors.New(env.Error.Code, env.Error.Message, resp.StatusCode)
		}
		return appErr
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("client: decode %s %s: %w", method, path, err)
	}
	return nil
}

func ticketPath(id uint64) string {
	return "/api/tickets/" + strconv.FormatUint(id, 10)
}
