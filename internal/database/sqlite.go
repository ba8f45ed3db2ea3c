package database

import (
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// sqliteBusyTimeoutMS lets a writer wait for the capture plugin's before-image reads instead
// of failing with SQLITE_BUSY.
const sqliteBusyTimeoutMS = "5000"

func openSQLite(cfg Config) (*gorm.DB, error) {
	dsn, memory, err := sqliteDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if _, err := sqlDB.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}
	// Shared-cache memory databases lock per table; a single connection serialises writers.
	if memory {
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// sqliteDSN resolves Path into a DSN. "", ":memory:" and "memory:<name>" open shared-cache
// memory databases; anything else is a file whose directory is created on demand.
func sqliteDSN(cfg Config) (dsn string, memory bool, err error) {
	if dsn = strings.TrimSpace(cfg.DSN); dsn != "" {
		return dsn, strings.Contains(dsn, "memory"), nil
	}

	path := strings.TrimSpace(cfg.Path)
	params := []string{"_foreign_keys=1", "_busy_timeout=" + sqliteBusyTimeoutMS}
	switch {
	case path == "", strings.EqualFold(path, ":memory:"):
		return "file::memory:?cache=shared&" + strings.Join(params, "&"), true, nil
	case strings.HasPrefix(path, "memory:"):
		name := strings.TrimPrefix(path, "memory:")
		return "file:" + name + "?mode=memory&cache=shared&" + strings.Join(params, "&"), true, nil
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", false, err
		}
	}
	params = append(params, "_journal_mode=WAL")
	return "file:" + filepath.ToSlash(path) + "?" + strings.Join(params, "&"), false, nil
}
