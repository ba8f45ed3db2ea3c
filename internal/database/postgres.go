package database

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func openPostgres(cfg Config) (*gorm.DB, error) {
	dsn, err := buildPostgresDSN(cfg)
	if err != nil {
		return nil, err
	}
	return gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
}

// PostgresDSN returns the connection string Open uses for a postgres configuration. The change
// feed listener dials it separately because LISTEN needs a dedicated connection.
func PostgresDSN(cfg Config) (string, error) {
	dsn, err := buildPostgresDSN(cfg)
	if err != nil {
		return "", err
	}
	if _, err := pgx.ParseConfig(dsn); err != nil {
		return "", fmt.Errorf("invalid postgres dsn: %w", err)
	}
	return dsn, nil
}

func buildPostgresDSN(cfg Config) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	if cfg.User == "" || cfg.Name == "" {
		return "", errors.New("postgres configuration requires user and database name")
	}

	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}

	params := []string{
		pgKeyword("host", host),
		pgKeyword("port", strconv.Itoa(port)),
		pgKeyword("user", cfg.User),
		pgKeyword("dbname", cfg.Name),
	}
	if cfg.Password != "" {
		params = append(params, pgKeyword("password", cfg.Password))
	}

	options := map[string]string{"sslmode": "disable"}
	for key, value := range cfg.Options {
		options[key] = value
	}
	keys := make([]string, 0, len(options))
	for key := range options {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		params = append(params, pgKeyword(key, options[key]))
	}

	return strings.Join(params, " "), nil
}

// pgKeyword renders one keyword=value pair, quoting values libpq would otherwise split.
func pgKeyword(key, value string) string {
	if value != "" && !strings.ContainsAny(value, ` '\`) {
		return key + "=" + value
	}
	escaped := strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(value)
	return key + "='" + escaped + "'"
}
