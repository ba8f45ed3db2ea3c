package app

import (
	"strings"

	"github.com/charlesng35/ticketdesk/internal/changefeed"
)

// SourceName returns the normalised change feed source.
func (c ChangeFeedConfig) SourceName() string {
	source := strings.ToLower(strings.TrimSpace(c.Source))
	if source == "" {
		return FeedSourceLocal
	}
	return source
}

// Backoff returns the reconnect bounds of the remote feed sources.
func (c ChangeFeedConfig) Backoff() changefeed.Backoff {
	return changefeed.Backoff{Min: c.ReconnectMin, Max: c.ReconnectMax}
}
