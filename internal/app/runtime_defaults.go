package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/ticketdesk/internal/database"
	"github.com/charlesng35/ticketdesk/internal/push"
)

const jwtSecretBytes = 48

// ApplyRuntimeDefaults ensures critical secrets are populated even when no configuration file is supplied.
// It returns a map describing which keys were generated so callers can log the event without exposing values.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	generated := make(map[string]bool)

	if strings.TrimSpace(cfg.Auth.JWT.Secret) == "" {
		secret, err := generateHexKey(jwtSecretBytes)
		if err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		cfg.Auth.JWT.Secret = secret
		generated["auth.jwt.secret"] = true
	}

	return generated, nil
}

// ResolveVAPIDKeys fills the push key pair. Configured keys win; otherwise the pair stored in
// system settings is used, and a fresh pair is generated and stored on first start so every
// instance signs with the same identity. It reports whether a new pair was generated.
func ResolveVAPIDKeys(ctx context.Context, db *gorm.DB, cfg *Config) (bool, error) {
	if cfg == nil {
		return false, fmt.Errorf("config is nil")
	}
	public := strings.TrimSpace(cfg.Push.VAPIDPublicKey)
	private := strings.TrimSpace(cfg.Push.VAPIDPrivateKey)
	if public != "" && private != "" {
		return false, nil
	}
	if public != "" || private != "" {
		return false, fmt.Errorf("push.vapid_public_key and push.vapid_private_key must be set together")
	}

	candidatePrivate, candidatePublic, err := push.GenerateVAPIDKeys()
	if err != nil {
		return false, fmt.Errorf("generate vapid keys: %w", err)
	}

	resolvedPublic, resolvedPrivate, err := database.EnsureVAPIDKeys(ctx, db, candidatePublic, candidatePrivate)
	if err != nil {
		return false, err
	}
	cfg.Push.VAPIDPublicKey = resolvedPublic
	cfg.Push.VAPIDPrivateKey = resolvedPrivate
	return resolvedPublic == candidatePublic, nil
}

func generateHexKey(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("length must be positive")
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
