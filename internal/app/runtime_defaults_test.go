package app

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/ticketdesk/internal/database"
	testutil "github.com/charlesng35/ticketdesk/internal/database/testutil"
)

func TestApplyRuntimeDefaultsGeneratesMissingSecrets(t *testing.T) {
	cfg := &Config{}

	generated, err := ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)
	require.Len(t, cfg.Auth.JWT.Secret, jwtSecretBytes*2)
	require.True(t, generated["auth.jwt.secret"])
}

func TestApplyRuntimeDefaultsPreservesExistingSecrets(t *testing.T) {
	cfg := &Config{}
	cfg.Auth.JWT.Secret = strings.Repeat("a", 10)

	generated, err := ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)
	require.Empty(t, generated)
	require.Equal(t, strings.Repeat("a", 10), cfg.Auth.JWT.Secret)
}

func TestApplyRuntimeDefaultsNilConfig(t *testing.T) {
	_, err := ApplyRuntimeDefaults(nil)
	require.ErrorContains(t, err, "config is nil")
}

func TestGenerateHexKey(t *testing.T) {
	key, err := generateHexKey(4)
	require.NoError(t, err)
	require.Len(t, key, 8)

	_, err = generateHexKey(0)
	require.Error(t, err)
}

func TestResolveVAPIDKeysPersistsFirstPair(t *testing.T) {
	ctx := context.Background()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	first := &Config{}
	generated, err := ResolveVAPIDKeys(ctx, db, first)
	require.NoError(t, err)
	require.True(t, generated)
	require.NotEmpty(t, first.Push.VAPIDPublicKey)
	require.NotEmpty(t, first.Push.VAPIDPrivateKey)

	stored, err := database.GetSystemSetting(ctx, db, database.VAPIDPublicKeySetting)
	require.NoError(t, err)
	require.Equal(t, first.Push.VAPIDPublicKey, stored)

	second := &Config{}
	generated, err = ResolveVAPIDKeys(ctx, db, second)
	require.NoError(t, err)
	require.False(t, generated)
	require.Equal(t, first.Push, second.Push)
}

func TestResolveVAPIDKeysConfiguredPairWins(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	cfg := &Config{Push: PushConfig{VAPIDPublicKey: "pub", VAPIDPrivateKey: "priv"}}
	generated, err := ResolveVAPIDKeys(context.Background(), db, cfg)
	require.NoError(t, err)
	require.False(t, generated)
	require.Equal(t, "pub", cfg.Push.VAPIDPublicKey)

	_, err = ResolveVAPIDKeys(context.Background(), db, &Config{Push: PushConfig{VAPIDPublicKey: "pub"}})
	require.Error(t, err)
}
