package monitoring_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/ticketdesk/internal/changefeed"
	sharedtestutil "github.com/charlesng35/ticketdesk/internal/database/testutil"
	"github.com/charlesng35/ticketdesk/internal/monitoring"
)

func TestHealthManagerEvaluate(t *testing.T) {
	manager := monitoring.NewHealthManager(0)
	manager.RegisterReadiness(monitoring.NewCheck("database", func(ctx context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusUp}
	}))
	manager.RegisterReadiness(monitoring.NewCheck("changefeed", func(ctx context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusDegraded, Details: "interrupted: postgres"}
	}))

	report := manager.EvaluateReadiness(context.Background())
	require.True(t, report.Success)
	require.Equal(t, monitoring.StatusDegraded, report.Status)
	require.Len(t, report.Checks, 2)
	require.Equal(t, "changefeed", report.Checks[1].Component)

	manager.RegisterReadiness(monitoring.NewCheck("redis", func(ctx context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "connection refused"}
	}))
	report = manager.EvaluateReadiness(context.Background())
	require.False(t, report.Success)
	require.Equal(t, monitoring.StatusDown, report.Status)

	live := manager.EvaluateLiveness(context.Background())
	require.True(t, live.Success)
	require.Empty(t, live.Checks)
}

func TestHealthManagerRunsProbesConcurrently(t *testing.T) {
	manager := monitoring.NewHealthManager(2 * time.Second)
	var started sync.WaitGroup
	started.Add(2)
	barrier := func(ctx context.Context) monitoring.ProbeResult {
		started.Done()
		done := make(chan struct{})
		go func() {
			started.Wait()
			close(done)
		}()
		select {
		case <-done:
			return monitoring.ProbeResult{Status: monitoring.StatusUp}
		case <-ctx.Done():
			return monitoring.ResultFromError(ctx.Err())
		}
	}
	manager.RegisterReadiness(monitoring.NewCheck("database", barrier))
	manager.RegisterReadiness(monitoring.NewCheck("redis", barrier))

	report := manager.EvaluateReadiness(context.Background())
	require.Equal(t, monitoring.StatusUp, report.Status)
	require.Equal(t, []string{"database", "redis"}, []string{report.Checks[0].Component, report.Checks[1].Component})
}

func TestHealthManagerRecoversPanicsAndTimesOut(t *testing.T) {
	manager := monitoring.NewHealthManager(20 * time.Millisecond)
	manager.RegisterLiveness(monitoring.NewCheck("boom", func(context.Context) monitoring.ProbeResult {
		panic("probe exploded")
	}))
	manager.RegisterLiveness(monitoring.NewCheck("slow", func(ctx context.Context) monitoring.ProbeResult {
		<-ctx.Done()
		return monitoring.ResultFromError(ctx.Err())
	}))
	manager.RegisterLiveness(monitoring.NewCheck("", nil))

	report := manager.EvaluateLiveness(context.Background())
	require.Len(t, report.Checks, 2)
	require.Equal(t, monitoring.StatusDown, report.Checks[0].Status)
	require.Contains(t, report.Checks[0].Details, "probe exploded")
	require.Equal(t, monitoring.StatusDegraded, report.Checks[1].Status)
}

func TestDatabaseCheck(t *testing.T) {
	db := sharedtestutil.MustOpenTestDB(t)
	require.Equal(t, monitoring.StatusUp, monitoring.Database(db).Run(context.Background()).Status)
	require.Equal(t, monitoring.StatusDown, monitoring.Database(nil).Run(context.Background()).Status)
}

func TestRedisCheckDegradesOnFailure(t *testing.T) {
	require.Equal(t, monitoring.StatusUp, monitoring.Redis(nil).Run(context.Background()).Status)

	failing := monitoring.PingFunc(func(context.Context) error { return errors.New("dial tcp: refused") })
	result := monitoring.Redis(failing).Run(context.Background())
	require.Equal(t, monitoring.StatusDegraded, result.Status)
	require.Contains(t, result.Details, "refused")
}

func TestChangeFeedCheck(t *testing.T) {
	feed := changefeed.New()
	t.Cleanup(feed.Close)
	check := monitoring.ChangeFeed(feed)

	require.Equal(t, monitoring.StatusUp, check.Run(context.Background()).Status)

	feed.Interrupt("postgres", errors.New("connection reset"))
	result := check.Run(context.Background())
	require.Equal(t, monitoring.StatusDegraded, result.Status)
	require.Equal(t, "interrupted: postgres", result.Details)

	feed.Resume("postgres")
	require.Equal(t, monitoring.StatusUp, check.Run(context.Background()).Status)
}
