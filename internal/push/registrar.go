package push

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/charlesng35/ticketdesk/internal/models"
	"github.com/charlesng35/ticketdesk/internal/session"
	apperrors "github.com/charlesng35/ticketdesk/pkg/errors"
	"github.com/charlesng35/ticketdesk/pkg/logger"
)

// Permission is the user's answer to the notification prompt.
type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
	PermissionDefault Permission = "default"
)

// Agent is an installed background delivery agent.
type Agent interface {
	// Descriptor returns the current delivery descriptor, or nil when the agent has none.
	Descriptor(ctx context.Context) (*models.PushDescriptor, error)
	// CreateDescriptor subscribes the agent with the raw application server key.
	CreateDescriptor(ctx context.Context, applicationServerKey []byte) (*models.PushDescriptor, error)
}

// Platform is the client environment hosting the agent.
type Platform interface {
	// SupportsPush reports whether background delivery and notification permissions exist.
	SupportsPush() bool
	// InstallAgent installs or returns the already active agent.
	InstallAgent(ctx context.Context) (Agent, error)
	RequestPermission(ctx context.Context) (Permission, error)
}

// DescriptorStore persists one descriptor per user, overwriting on every save.
type DescriptorStore interface {
	SaveDescriptor(ctx context.Context, userID string, descriptor models.PushDescriptor) error
}

// KeyProvider returns the service's URL-safe base64 public key.
type KeyProvider interface {
	PublicKey(ctx context.Context) (string, error)
}

// Registration steps reported by StepError.
const (
	StepInstall   = "install"
	StepKey       = "key"
	StepSubscribe = "subscribe"
	StepStore     = "store"
)

// StepError identifies the registrar step that failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("push registration failed at %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Registrar opts the session's user in to push delivery.
type Registrar struct {
	sess     session.Session
	platform Platform
	store    DescriptorStore
	keys     KeyProvider
	group    singleflight.Group
	log      *zap.Logger
}

// NewRegistrar builds a registrar bound to sess.
func NewRegistrar(sess session.Session, platform Platform, store DescriptorStore, keys KeyProvider) (*Registrar, error) {
	if !sess.Valid() {
		return nil, apperrors.ErrUnauthorized
	}
	if platform == nil || store == nil || keys == nil {
		return nil, fmt.Errorf("push: platform, store and key provider are required")
	}
	return &Registrar{
		sess:     sess,
		platform: platform,
		store:    store,
		keys:     keys,
		log:      logger.WithModule("push.registrar"),
	}, nil
}

// Register runs the opt-in flow. Concurrent calls share one run. The returned descriptor is
// the one stored for the user.
func (r *Registrar) Register(ctx context.Context) (*models.PushDescriptor, error) {
	result, err, _ := r.group.Do(r.sess.UserID, func() (any, error) {
		return r.register(ctx)
	})
	if err != nil {
		r.log.Warn("push registration failed", zap.String("user_id", r.sess.UserID), zap.Error(err))
		return nil, err
	}
	descriptor := result.(models.PushDescriptor)
	return &descriptor, nil
}

func (r *Registrar) register(ctx context.Context) (models.PushDescriptor, error) {
	if !r.platform.SupportsPush() {
		return models.PushDescriptor{}, apperrors.ErrUnsupportedPlatform
	}

	agent, err := r.platform.InstallAgent(ctx)
	if err != nil {
		return models.PushDescriptor{}, &StepError{Step: StepInstall, Err: err}
	}

	permission, err := r.platform.RequestPermission(ctx)
	if err != nil {
		return models.PushDescriptor{}, apperrors.ErrPermissionDenied.WithInternal(err)
	}
	if permission != PermissionGranted {
		return models.PushDescriptor{}, apperrors.ErrPermissionDenied
	}

	descriptor, err := agent.Descriptor(ctx)
	if err != nil {
		return models.PushDescriptor{}, &StepError{Step: StepSubscribe, Err: err}
	}
	if descriptor == nil {
		encoded, err := r.keys.PublicKey(ctx)
		if err != nil {
			return models.PushDescriptor{}, &StepError{Step: StepKey, Err: err}
		}
		key, err := DecodeApplicationServerKey(encoded)
		if err != nil {
			return models.PushDescriptor{}, &StepError{Step: StepKey, Err: err}
		}
		descriptor, err = agent.CreateDescriptor(ctx, key)
		if err != nil {
			return models.PushDescriptor{}, &StepError{Step: StepSubscribe, Err: err}
		}
		if descriptor == nil {
			return models.PushDescriptor{}, &StepError{Step: StepSubscribe, Err: fmt.Errorf("agent returned no descriptor")}
		}
	}

	if err := r.store.SaveDescriptor(ctx, r.sess.UserID, *descriptor); err != nil {
		return models.PushDescriptor{}, &StepError{Step: StepStore, Err: err}
	}

	r.log.Info("push descriptor registered", zap.String("user_id", r.sess.UserID))
	return *descriptor, nil
}
