package changefeed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/charlesng35/ticketdesk/pkg/logger"
)

const postgresSource = "postgres"

// errNotConnected marks a source that has not established its link yet.
var errNotConnected = errors.New("changefeed: source not connected yet")

// Backoff bounds reconnect delays of the feed sources.
type Backoff struct {
	Min time.Duration
	Max time.Duration
}

func (b Backoff) normalized() Backoff {
	if b.Min <= 0 {
		b.Min = time.Second
	}
	if b.Max < b.Min {
		b.Max = 30 * time.Second
		if b.Max < b.Min {
			b.Max = b.Min
		}
	}
	return b
}

// PostgresSource listens on the NOTIFY channel fed by the row change triggers and publishes
// each notification to the feed.
type PostgresSource struct {
	dsn       string
	channel   string
	feed      *Feed
	publisher Publisher
	backoff   Backoff
	log       *zap.Logger
}

// NewPostgresSource builds a source reading channel over a dedicated pgx connection.
// Decoded events go to publisher, or to feed when publisher is nil. The feed stays
// interrupted until the first LISTEN succeeds.
func NewPostgresSource(dsn, channel string, feed *Feed, publisher Publisher, backoff Backoff) *PostgresSource {
	if publisher == nil {
		publisher = feed
	}
	feed.Interrupt(postgresSource, errNotConnected)
	return &PostgresSource{
		dsn:       dsn,
		channel:   channel,
		feed:      feed,
		publisher: publisher,
		backoff:   backoff.normalized(),
		log:       logger.WithModule("changefeed.postgres"),
	}
}

// Run blocks until ctx is done, reconnecting with exponential backoff. Every lost connection
// interrupts the feed; every re-established LISTEN resumes it.
func (s *PostgresSource) Run(ctx context.Context) error {
	backoff := s.backoff.Min

	for {
		listening, err := s.listen(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if listening {
			backoff = s.backoff.Min
		}

		s.feed.Interrupt(postgresSource, err)
		s.log.Warn("change listener disconnected, reconnecting",
			zap.String("channel", s.channel),
			zap.Error(err),
			zap.Duration("backoff", backoff))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff = min(backoff*2, s.backoff.Max)
	}
}

func (s *PostgresSource) listen(ctx context.Context) (bool, error) {
	conn, err := pgx.Connect(ctx, s.dsn)
	if err != nil {
		return false, fmt.Errorf("connect: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{s.channel}.Sanitize()); err != nil {
		return false, fmt.Errorf("listen %s: %w", s.channel, err)
	}

	s.log.Info("listening for row changes", zap.String("channel", s.channel))
	s.feed.Resume(postgresSource)

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return true, err
		}
		evt, err := decodeEvent([]byte(notification.Payload))
		if err != nil {
			s.log.Warn("dropping malformed change notification", zap.Error(err))
			continue
		}
		s.publisher.Publish(evt)
	}
}
