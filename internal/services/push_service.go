package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/ticketdesk/internal/models"
	"github.com/charlesng35/ticketdesk/internal/push"
	apperrors "github.com/charlesng35/ticketdesk/pkg/errors"
	"github.com/charlesng35/ticketdesk/pkg/logger"
	"github.com/charlesng35/ticketdesk/pkg/metrics"
	"github.com/charlesng35/ticketdesk/pkg/validator"
)

// PushService stores one push descriptor per user and delivers payloads to it.
type PushService struct {
	db          *gorm.DB
	sender      push.Sender
	publicKey   string
	maxFailures int
	timeNow     func() time.Time
	log         *zap.Logger
	cache       *descriptorCache
}

// PushServiceOption customises a PushService.
type PushServiceOption func(*PushService)

// WithPushSender enables delivery. Without a sender Notify is a no-op.
func WithPushSender(sender push.Sender) PushServiceOption {
	return func(s *PushService) {
		s.sender = sender
	}
}

// WithPublicKey exposes the VAPID public key to registrars.
func WithPublicKey(key string) PushServiceOption {
	return func(s *PushService) {
		s.publicKey = strings.TrimSpace(key)
	}
}

// WithMaxFailures marks a descriptor gone after n consecutive transient failures.
func WithMaxFailures(n int) PushServiceOption {
	return func(s *PushService) {
		s.maxFailures = n
	}
}

// NewPushService constructs a PushService.
func NewPushService(db *gorm.DB, opts ...PushServiceOption) (*PushService, error) {
	if db == nil {
		return nil, errors.New("push service: db is required")
	}
	svc := &PushService{
		db:          db,
		maxFailures: 5,
		timeNow:     time.Now,
		log:         logger.WithModule("push"),
		cache:       newDescriptorCache(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// PublicKey returns the URL-safe base64 VAPID public key.
func (s *PushService) PublicKey(context.Context) (string, error) {
	if s.publicKey == "" {
		return "", apperrors.ErrUnsupportedPlatform.WithMessage("push delivery is not configured")
	}
	return s.publicKey, nil
}

// SaveDescriptor upserts the descriptor of userID. A second registration overwrites the first
// and clears any failure state.
func (s *PushService) SaveDescriptor(ctx context.Context, userID string, descriptor models.PushDescriptor) error {
	ctx = ensureContext(ctx)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return apperrors.NewValidation("user id is required")
	}
	if err := validator.ValidateStruct(descriptor); err != nil {
		return apperrors.NewValidation(err.Error())
	}

	now := s.timeNow().UTC()
	record := models.PushSubscription{
		UserID:     userID,
		Descriptor: datatypes.NewJSONType(descriptor),
		Endpoint:   descriptor.Endpoint,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"descriptor_json": record.Descriptor,
				"endpoint":        record.Endpoint,
				"failure_count":   0,
				"last_failure_at": nil,
				"gone_at":         nil,
				"updated_at":      now,
			}),
		}).
		Create(&record).Error
	s.cache.forget(userID)
	if err != nil {
		return writeFailure(err, "")
	}
	return nil
}

// Descriptor loads the active descriptor of userID.
func (s *PushService) Descriptor(ctx context.Context, userID string) (*models.PushDescriptor, error) {
	ctx = ensureContext(ctx)
	if descriptor, ok := s.cache.get(userID); ok {
		return &descriptor, nil
	}
	gen := s.cache.generation()

	var record models.PushSubscription
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND gone_at IS NULL", userID).
		Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound.WithMessage("no push subscription")
		}
		return nil, fmt.Errorf("push service: load descriptor: %w", err)
	}
	descriptor := record.Descriptor.Data()
	s.cache.put(userID, descriptor, gen)
	return &descriptor, nil
}

// DeleteDescriptor removes the descriptor of userID.
func (s *PushService) DeleteDescriptor(ctx context.Context, userID string) error {
	ctx = ensureContext(ctx)
	err := s.db.WithContext(ctx).Delete(&models.PushSubscription{UserID: userID}).Error
	s.cache.forget(userID)
	if err != nil {
		return apperrors.StoreFailure(err)
	}
	return nil
}

// Notify delivers payload to the user's device when one is registered. Missing descriptors
// are not an error.
func (s *PushService) Notify(ctx context.Context, userID string, payload push.Payload) error {
	if s.sender == nil || strings.TrimSpace(userID) == "" {
		return nil
	}

	descriptor, err := s.Descriptor(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			metrics.PushDeliveries.WithLabelValues("dropped").Inc()
			return nil
		}
		return err
	}

	err = s.sender.Send(ctx, *descriptor, payload)
	switch {
	case err == nil:
		metrics.PushDeliveries.WithLabelValues("sent").Inc()
		return s.resetFailures(ctx, userID)
	case errors.Is(err, push.ErrDescriptorGone):
		metrics.PushDeliveries.WithLabelValues("gone").Inc()
		s.log.Info("push descriptor gone", zap.String("user_id", userID))
		return s.markGone(ctx, userID)
	default:
		metrics.PushDeliveries.WithLabelValues("failed").Inc()
		if markErr := s.recordFailure(ctx, userID); markErr != nil {
			s.log.Warn("failed to record push failure", zap.String("user_id", userID), zap.Error(markErr))
		}
		return err
	}
}

// PruneGone deletes descriptors marked gone before cutoff and returns how many were removed.
func (s *PushService) PruneGone(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx = ensureContext(ctx)
	result := s.db.WithContext(ctx).
		Where("gone_at IS NOT NULL AND gone_at < ?", cutoff).
		Delete(&models.PushSubscription{})
	s.cache.purge()
	if result.Error != nil {
		return 0, fmt.Errorf("push service: prune descriptors: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *PushService) markGone(ctx context.Context, userID string) error {
	now := s.timeNow().UTC()
	defer s.cache.forget(userID)
	return s.db.WithContext(ctx).
		Model(&models.PushSubscription{UserID: userID}).
		Updates(map[string]any{"gone_at": now, "updated_at": now}).Error
}

func (s *PushService) recordFailure(ctx context.Context, userID string) error {
	now := s.timeNow().UTC()
	if err := s.db.WithContext(ctx).
		Model(&models.PushSubscription{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"failure_count":   gorm.Expr("failure_count + 1"),
			"last_failure_at": now,
		}).Error; err != nil {
		return err
	}
	if s.maxFailures <= 0 {
		return nil
	}
	result := s.db.WithContext(ctx).
		Model(&models.PushSubscription{UserID: userID}).
		Where("failure_count >= ? AND gone_at IS NULL", s.maxFailures).
		Update("gone_at", now)
	if result.RowsAffected > 0 {
		s.cache.forget(userID)
	}
	return result.Error
}

func (s *PushService) resetFailures(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).
		Model(&models.PushSubscription{}).
		Where("user_id = ? AND failure_count > 0", userID).
		Updates(map[string]any{"failure_count": 0, "last_failure_at": nil}).Error
}
