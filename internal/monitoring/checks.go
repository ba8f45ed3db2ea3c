package monitoring

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// Pinger is satisfied by dependencies that can answer a round trip, such as a redis client
// adapted with PingFunc.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping implements Pinger.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// FeedState exposes the disconnected sources of the change feed.
type FeedState interface {
	InterruptedSources() []string
}

// ConnectionCounter reports open realtime connections.
type ConnectionCounter interface {
	Len() int
}

// Database pings the record store.
func Database(db *gorm.DB) Check {
	return NewCheck("database", func(ctx context.Context) ProbeResult {
		if db == nil {
			return ProbeResult{Status: StatusDown, Details: "database not configured"}
		}
		sqlDB, err := db.DB()
		if err != nil {
			return ResultFromError(err)
		}
		return ResultFromError(sqlDB.PingContext(ctx))
	})
}

// Redis pings the shared cache. A nil client means redis is not in use.
func Redis(client Pinger) Check {
	return NewCheck("redis", func(ctx context.Context) ProbeResult {
		if client == nil {
			return ProbeResult{Status: StatusUp, Details: "redis disabled"}
		}
		result := ResultFromError(client.Ping(ctx))
		if result.Status == StatusDown {
			// Rate limiting falls open and the relay reconnects on its own.
			result.Status = StatusDegraded
		}
		return result
	})
}

// ChangeFeed degrades while any change source is disconnected. Record store operations keep
// working; realtime views are stale until the source resumes.
func ChangeFeed(feed FeedState) Check {
	return NewCheck("changefeed", func(context.Context) ProbeResult {
		if feed == nil {
			return ProbeResult{Status: StatusDown, Details: "change feed not configured"}
		}
		if sources := feed.InterruptedSources(); len(sources) > 0 {
			return ProbeResult{Status: StatusDegraded, Details: "interrupted: " + strings.Join(sources, ", ")}
		}
		return ProbeResult{Status: StatusUp}
	})
}

// Realtime reports the number of open websocket connections.
func Realtime(hub ConnectionCounter) Check {
	return NewCheck("realtime", func(context.Context) ProbeResult {
		if hub == nil {
			return ProbeResult{Status: StatusUp, Details: "realtime disabled"}
		}
		return ProbeResult{Status: StatusUp, Details: fmt.Sprintf("%d connections", hub.Len())}
	})
}
