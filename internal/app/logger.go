package app

import (
	"fmt"
	"strings"

	"github.com/charlesng35/ticketdesk/pkg/logger"
)

// ConfigureLogging initialises the global logger from the server section. Level defaults to
// info and format to json.
func ConfigureLogging(cfg ServerConfig) error {
	format := strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	switch format {
	case "", "json":
		format = "json"
	case "console":
	default:
		return fmt.Errorf("server.log_format %q is not json or console", cfg.LogFormat)
	}
	return logger.Init(cfg.LogLevel, format)
}
