package changefeed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPostgresSourceStartsInterrupted(t *testing.T) {
	feed := New()
	t.Cleanup(feed.Close)

	rec := newRecorder()
	h, err := feed.Subscribe(Filter{Table: "tickets"}, rec.callback)
	require.NoError(t, err)
	t.Cleanup(h.Cancel)

	source := NewPostgresSource("postgres://desk@127.0.0.1:1/desk?connect_timeout=1", "ticketdesk_changes", feed, nil,
		Backoff{Min: 10 * time.Millisecond, Max: 20 * time.Millisecond})
	require.Equal(t, DeliveryInterrupted, rec.next(t).Kind)
	require.True(t, feed.Interrupted())
	require.Equal(t, []string{postgresSource}, feed.InterruptedSources())

	// Failed connection attempts keep the feed interrupted without signalling again.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, source.Run(ctx), context.DeadlineExceeded)
	rec.none(t)
	require.True(t, feed.Interrupted())
}
