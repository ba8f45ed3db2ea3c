package testutil

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/ticketdesk/internal/database"
	"github.com/charlesng35/ticketdesk/internal/models"
	"github.com/charlesng35/ticketdesk/internal/workflow"
)

// TestDBOption customises the behaviour of MustOpenTestDB.
type TestDBOption func(*testDBConfig)

type testDBConfig struct {
	autoMigrate bool
	plugins     []gorm.Plugin
	profiles    []models.Profile
}

// WithAutoMigrate enables automatic schema migration after opening the test database.
func WithAutoMigrate() TestDBOption {
	return func(cfg *testDBConfig) {
		cfg.autoMigrate = true
	}
}

// WithPlugin registers a gorm plugin, such as the change capture plugin, before migrating.
func WithPlugin(plugin gorm.Plugin) TestDBOption {
	return func(cfg *testDBConfig) {
		cfg.plugins = append(cfg.plugins, plugin)
	}
}

// WithProfiles seeds profiles after migration. Implies WithAutoMigrate.
func WithProfiles(profiles ...models.Profile) TestDBOption {
	return func(cfg *testDBConfig) {
		cfg.autoMigrate = true
		cfg.profiles = append(cfg.profiles, profiles...)
	}
}

// Profile builds a seed profile whose email is derived from id.
func Profile(id string, role workflow.Role) models.Profile {
	return models.Profile{
		BaseModel: models.BaseModel{ID: id},
		Email:     id + "@example.com",
		Role:      role,
	}
}

// MustOpenTestDB opens a private in-memory SQLite database for tests. The connection is
// closed via t.Cleanup.
func MustOpenTestDB(t *testing.T, opts ...TestDBOption) *gorm.DB {
	t.Helper()

	cfg := testDBConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := database.Open(database.Config{Driver: "sqlite", Path: "memory:" + uuid.NewString()})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	for _, plugin := range cfg.plugins {
		require.NoError(t, db.Use(plugin))
	}
	if cfg.autoMigrate {
		require.NoError(t, database.AutoMigrate(db))
	}
	for i := range cfg.profiles {
		require.NoError(t, db.Create(&cfg.profiles[i]).Error)
	}

	return db
}
