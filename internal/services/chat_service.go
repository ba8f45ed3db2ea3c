package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/charlesng35/ticketdesk/internal/models"
	"github.com/charlesng35/ticketdesk/internal/session"
	apperrors "github.com/charlesng35/ticketdesk/pkg/errors"
)

// MaxChatMessageLength bounds a message body in runes.
const MaxChatMessageLength = 4000

// ChatService appends messages to a ticket's chat log.
type ChatService struct {
	db      *gorm.DB
	tickets *TicketService
	timeNow func() time.Time

	mu   sync.Mutex
	last map[uint64]time.Time
}

// ChatServiceOption customises a ChatService.
type ChatServiceOption func(*ChatService)

// WithChatClock overrides the clock used to stamp messages.
func WithChatClock(now func() time.Time) ChatServiceOption {
	return func(s *ChatService) {
		if now != nil {
			s.timeNow = now
		}
	}
}

// NewChatService constructs a chat service once database and ticket dependencies are supplied.
func NewChatService(db *gorm.DB, tickets *TicketService, opts ...ChatServiceOption) (*ChatService, error) {
	if db == nil {
		return nil, errors.New("chat service: db is required")
	}
	if tickets == nil {
		return nil, errors.New("chat service: ticket service is required")
	}
	svc := &ChatService{
		db:      db,
		tickets: tickets,
		timeNow: time.Now,
		last:    make(map[uint64]time.Time),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Post trims and stores a message body as typed; escaping belongs to renderers. Timestamps
// are strictly increasing per ticket within this process so timestamp order equals append order.
func (s *ChatService) Post(ctx context.Context, sess session.Session, ticketID uint64, body string) (*models.TicketMessage, error) {
	ctx = ensureContext(ctx)

	content := strings.TrimSpace(body)
	if content == "" {
		return nil, apperrors.NewValidation("message body is required")
	}
	if utf8.RuneCountInString(content) > MaxChatMessageLength {
		return nil, apperrors.NewValidation(fmt.Sprintf("message exceeds %d characters", MaxChatMessageLength))
	}

	if _, err := s.tickets.Get(ctx, sess, ticketID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stamp := s.timeNow().UTC().Truncate(time.Millisecond)
	if last, ok := s.last[ticketID]; ok && !stamp.After(last) {
		stamp = last.Add(time.Millisecond)
	}

	message := models.TicketMessage{
		TicketID:  ticketID,
		Sender:    sess.UserID,
		Body:      content,
		CreatedAt: stamp,
	}
	if err := s.db.WithContext(ctx).Create(&message).Error; err != nil {
		return nil, writeFailure(err, fmt.Sprintf("ticket %d", ticketID))
	}
	s.last[ticketID] = stamp
	return &message, nil
}

// History returns every message of a ticket in timestamp order, ties broken by id.
func (s *ChatService) History(ctx context.Context, sess session.Session, ticketID uint64) ([]models.TicketMessage, error) {
	ctx = ensureContext(ctx)

	if _, err := s.tickets.Get(ctx, sess, ticketID); err != nil {
		return nil, err
	}

	var messages []models.TicketMessage
	if err := s.db.WithContext(ctx).
		Where("ticket_id = ?", ticketID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("chat service: list messages: %w", err)
	}
	return messages, nil
}
