package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/ticketdesk/internal/models"
	"github.com/charlesng35/ticketdesk/internal/session"
	"github.com/charlesng35/ticketdesk/internal/workflow"
	apperrors "github.com/charlesng35/ticketdesk/pkg/errors"
)

// ProfileService links authenticated identities to profile records.
type ProfileService struct {
	db *gorm.DB
}

// NewProfileService constructs a ProfileService.
func NewProfileService(db *gorm.DB) (*ProfileService, error) {
	if db == nil {
		return nil, errors.New("profile service: db is required")
	}
	return &ProfileService{db: db}, nil
}

// Ensure returns the profile of sess, creating it on first sight. The stored role wins over
// the session's because a role is fixed at account creation.
func (s *ProfileService) Ensure(ctx context.Context, sess session.Session) (*models.Profile, error) {
	ctx = ensureContext(ctx)
	if !sess.Valid() {
		return nil, apperrors.ErrUnauthorized
	}

	now := time.Now().UTC()
	profile := models.Profile{
		BaseModel:  models.BaseModel{ID: sess.UserID},
		Email:      sess.Email,
		Role:       sess.Role,
		LastSeenAt: &now,
	}
	if profile.Email == "" {
		profile.Email = sess.UserID
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_seen_at"}),
		}).
		Create(&profile).Error
	if err != nil {
		if classifyViolation(err) == violationUnique {
			return nil, apperrors.New("PROFILE_CONFLICT", "email is already linked to another account", 409).WithInternal(err)
		}
		return nil, writeFailure(err, "")
	}
	return s.Get(ctx, sess.UserID)
}

// Get loads a profile by user id.
func (s *ProfileService) Get(ctx context.Context, userID string) (*models.Profile, error) {
	ctx = ensureContext(ctx)
	var profile models.Profile
	if err := s.db.WithContext(ctx).First(&profile, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound.WithMessage("profile not found")
		}
		return nil, fmt.Errorf("profile service: load profile: %w", err)
	}
	return &profile, nil
}

// Resolvers lists resolver profiles ordered by email, for reassignment pickers.
func (s *ProfileService) Resolvers(ctx context.Context) ([]models.Profile, error) {
	ctx = ensureContext(ctx)
	var profiles []models.Profile
	if err := s.db.WithContext(ctx).
		Where("role = ?", workflow.RoleResolver.String()).
		Order("email ASC").
		Find(&profiles).Error; err != nil {
		return nil, fmt.Errorf("profile service: list resolvers: %w", err)
	}
	return profiles, nil
}
