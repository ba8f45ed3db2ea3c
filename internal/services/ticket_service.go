package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/ticketdesk/internal/desk"
	"github.com/charlesng35/ticketdesk/internal/models"
	"github.com/charlesng35/ticketdesk/internal/session"
	"github.com/charlesng35/ticketdesk/internal/workflow"
	apperrors "github.com/charlesng35/ticketdesk/pkg/errors"
	"github.com/charlesng35/ticketdesk/pkg/logger"
	"github.com/charlesng35/ticketdesk/pkg/metrics"
)

const (
	defaultTicketLimit = 200
	maxTicketLimit     = 1000
)

// CreateTicketInput carries the fields a requester supplies for a new ticket.
type CreateTicketInput struct {
	Title            string            `json:"title" validate:"notblank,max=200"`
	Description      string            `json:"description" validate:"notblank,max=4000"`
	Category         workflow.Category `json:"category" validate:"required,oneof=material incident question"`
	Priority         workflow.Priority `json:"priority" validate:"omitempty,oneof=low medium high"`
	AssignedResolver string            `json:"assigned_resolver" validate:"omitempty,max=255"`
	AttachmentURL    string            `json:"attachment_url" validate:"omitempty,url"`
	Lat              *float64          `json:"lat" validate:"omitempty,latitude"`
	Lng              *float64          `json:"lng" validate:"omitempty,longitude"`
}

// TicketService reads tickets and applies state machine commands as single-row writes.
type TicketService struct {
	db              *gorm.DB
	defaultResolver string
	completionNote  string
	log             *zap.Logger
}

// TicketServiceOption customises a TicketService.
type TicketServiceOption func(*TicketService)

// WithDefaultResolver assigns tickets created without a resolver.
func WithDefaultResolver(resolverID string) TicketServiceOption {
	return func(s *TicketService) {
		s.defaultResolver = strings.TrimSpace(resolverID)
	}
}

// WithCompletionNote replaces the note attached to tickets resolved without one.
func WithCompletionNote(note string) TicketServiceOption {
	return func(s *TicketService) {
		s.completionNote = strings.TrimSpace(note)
	}
}

// NewTicketService constructs a TicketService.
func NewTicketService(db *gorm.DB, opts ...TicketServiceOption) (*TicketService, error) {
	if db == nil {
		return nil, errors.New("ticket service: db is required")
	}
	svc := &TicketService{db: db, log: logger.WithModule("tickets")}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Create stores a new ticket in the submitted state. The creator always comes from sess.
func (s *TicketService) Create(ctx context.Context, sess session.Session, input CreateTicketInput) (*models.Ticket, error) {
	ctx = ensureContext(ctx)
	if !sess.Valid() {
		return nil, apperrors.ErrUnauthorized
	}

	title := strings.TrimSpace(input.Title)
	description := strings.TrimSpace(input.Description)
	if title == "" {
		return nil, apperrors.NewValidation("title is required")
	}
	if description == "" {
		return nil, apperrors.NewValidation("description is required")
	}
	if !input.Category.Valid() {
		return nil, apperrors.NewValidation(fmt.Sprintf("unknown category %q", input.Category))
	}
	priority := input.Priority
	if priority == "" {
		priority = workflow.PriorityMedium
	}
	if !priority.Valid() {
		return nil, apperrors.NewValidation(fmt.Sprintf("unknown priority %q", input.Priority))
	}
	if (input.Lat == nil) != (input.Lng == nil) {
		return nil, apperrors.NewValidation("lat and lng must be supplied together")
	}

	resolver := strings.TrimSpace(input.AssignedResolver)
	if resolver == "" {
		resolver = s.defaultResolver
	}

	ticket := models.Ticket{
		Title:            title,
		Description:      description,
		Category:         input.Category,
		Priority:         priority,
		Status:           workflow.StatusSubmitted,
		Creator:          sess.UserID,
		AssignedResolver: optionalString(resolver),
		AttachmentURL:    optionalString(input.AttachmentURL),
		Lat:              input.Lat,
		Lng:              input.Lng,
	}

	if err := s.db.WithContext(ctx).Create(&ticket).Error; err != nil {
		return nil, writeFailure(err, "")
	}

	s.log.Info("ticket created",
		zap.Uint64("ticket_id", ticket.ID),
		zap.String("creator", ticket.Creator),
		zap.String("assigned_resolver", derefString(ticket.AssignedResolver)))
	return &ticket, nil
}

// Get loads a ticket visible to sess. Requesters only see tickets they created.
func (s *TicketService) Get(ctx context.Context, sess session.Session, id uint64) (*models.Ticket, error) {
	ctx = ensureContext(ctx)

	var ticket models.Ticket
	if err := s.db.WithContext(ctx).First(&ticket, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound.WithMessage(fmt.Sprintf("ticket %d not found", id))
		}
		return nil, fmt.Errorf("ticket service: load ticket: %w", err)
	}

	switch sess.Role {
	case workflow.RoleResolver:
	case workflow.RoleRequester:
		if ticket.Creator != sess.UserID {
			return nil, apperrors.ErrNotFound.WithMessage(fmt.Sprintf("ticket %d not found", id))
		}
	default:
		return nil, apperrors.ErrUnauthorized
	}
	return &ticket, nil
}

// List returns tickets newest first.
func (s *TicketService) List(ctx context.Context, query desk.Query) ([]models.Ticket, error) {
	ctx = ensureContext(ctx)

	limit := query.Limit
	if limit <= 0 {
		limit = defaultTicketLimit
	}
	limit = min(limit, maxTicketLimit)

	tx := s.db.WithContext(ctx).Model(&models.Ticket{})
	if query.Status != "" {
		tx = tx.Where("status = ?", query.Status)
	}
	if query.Creator != "" {
		tx = tx.Where("creator = ?", query.Creator)
	}
	if query.AssignedResolver != "" {
		tx = tx.Where("assigned_resolver = ?", query.AssignedResolver)
	}

	var tickets []models.Ticket
	if err := tx.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&tickets).Error; err != nil {
		return nil, fmt.Errorf("ticket service: list tickets: %w", err)
	}
	return tickets, nil
}

// Acknowledge moves a submitted ticket to acknowledged. Repeated calls are no-ops.
func (s *TicketService) Acknowledge(ctx context.Context, sess session.Session, id uint64) (*models.Ticket, error) {
	return s.Transition(ctx, sess, id, workflow.Command{Action: workflow.ActionAcknowledge})
}

// Start moves a ticket to in_progress with an optional note.
func (s *TicketService) Start(ctx context.Context, sess session.Session, id uint64, note string) (*models.Ticket, error) {
	return s.Transition(ctx, sess, id, workflow.Command{Action: workflow.ActionStart, Note: note})
}

// Complete resolves an in-progress ticket.
func (s *TicketService) Complete(ctx context.Context, sess session.Session, id uint64, note string) (*models.Ticket, error) {
	return s.Transition(ctx, sess, id, workflow.Command{Action: workflow.ActionResolve, Note: note, FallbackNote: s.completionNote})
}

// Reject closes a ticket with a mandatory reason.
func (s *TicketService) Reject(ctx context.Context, sess session.Session, id uint64, reason string) (*models.Ticket, error) {
	return s.Transition(ctx, sess, id, workflow.Command{Action: workflow.ActionReject, Note: reason})
}

// Reassign hands a non-terminal ticket to another resolver.
func (s *TicketService) Reassign(ctx context.Context, sess session.Session, id uint64, resolverID string) (*models.Ticket, error) {
	return s.Transition(ctx, sess, id, workflow.Command{Action: workflow.ActionReassign, Resolver: resolverID})
}

// Transition applies cmd on behalf of sess. Nothing is written when the command is a no-op or
// fails; otherwise one guarded single-row update is issued and never retried.
func (s *TicketService) Transition(ctx context.Context, sess session.Session, id uint64, cmd workflow.Command) (*models.Ticket, error) {
	ctx = ensureContext(ctx)
	cmd.Actor = sess.Actor()

	if !sess.IsResolver() {
		// Refuse before touching the store so requesters learn nothing about foreign tickets.
		_, err := workflow.Apply(workflow.State{}, cmd)
		metrics.Transitions.WithLabelValues(string(cmd.Action), "rejected").Inc()
		return nil, err
	}

	ticket, err := s.Get(ctx, sess, id)
	if err != nil {
		return nil, err
	}

	change, err := workflow.Apply(ticket.State(), cmd)
	if err != nil {
		metrics.Transitions.WithLabelValues(string(cmd.Action), "rejected").Inc()
		return nil, err
	}
	if change.Noop() {
		metrics.Transitions.WithLabelValues(string(cmd.Action), "noop").Inc()
		return ticket, nil
	}

	now := time.Now().UTC()
	columns := change.Columns()
	columns["updated_at"] = now

	result := s.db.WithContext(ctx).Model(ticket).Updates(columns)
	if result.Error != nil {
		metrics.Transitions.WithLabelValues(string(cmd.Action), "failed").Inc()
		return nil, apperrors.StoreFailure(result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, apperrors.ErrNotFound.WithMessage(fmt.Sprintf("ticket %d not found", id))
	}

	applyChange(ticket, change)
	ticket.UpdatedAt = now
	metrics.Transitions.WithLabelValues(string(cmd.Action), "applied").Inc()

	s.log.Info("ticket transitioned",
		zap.Uint64("ticket_id", ticket.ID),
		zap.String("action", string(cmd.Action)),
		zap.String("status", string(ticket.Status)),
		zap.String("actor", sess.UserID))
	return ticket, nil
}

func applyChange(ticket *models.Ticket, change workflow.Change) {
	ticket.Status = workflow.Next(ticket.Status, change)
	if change.ResponseNote != nil {
		note := *change.ResponseNote
		ticket.ResponseNote = &note
	}
	if change.AssignedResolver != nil {
		resolver := *change.AssignedResolver
		ticket.AssignedResolver = &resolver
	}
}
