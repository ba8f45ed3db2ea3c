package app

import (
	"strings"

	"github.com/charlesng35/ticketdesk/internal/database"
)

// Connection converts the database section into database.Config, picking the host block that
// matches the driver.
func (c DatabaseConfig) Connection() database.Config {
	dbCfg := database.Config{
		Driver: database.NormalizeDriver(c.Driver),
		Path:   strings.TrimSpace(c.Path),
		DSN:    strings.TrimSpace(c.DSN),
	}

	var hosted *DBAuthConfig
	switch dbCfg.Driver {
	case "postgres":
		hosted = &c.Postgres
	case "mysql":
		hosted = &c.MySQL
	}
	if hosted != nil {
		dbCfg.Host = strings.TrimSpace(hosted.Host)
		dbCfg.Port = hosted.Port
		dbCfg.Name = strings.TrimSpace(hosted.Database)
		dbCfg.User = strings.TrimSpace(hosted.Username)
		dbCfg.Password = hosted.Password
	}
	return dbCfg
}
