package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/charlesng35/ticketdesk/internal/changefeed"
	"github.com/charlesng35/ticketdesk/internal/models"
	"github.com/charlesng35/ticketdesk/internal/push"
	apperrors "github.com/charlesng35/ticketdesk/pkg/errors"
)

func TestPushService_SaveDescriptorUpserts(t *testing.T) {
	db, _ := openServiceDB(t)
	svc, err := NewPushService(db)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, svc.SaveDescriptor(ctx, "user-1", testDescriptor("https://push.example.com/a")))
	require.NoError(t, svc.SaveDescriptor(ctx, "user-1", testDescriptor("https://push.example.com/b")))

	var count int64
	require.NoError(t, db.Model(&models.PushSubscription{}).Count(&count).Error)
	require.EqualValues(t, 1, count)

	desc, err := svc.Descriptor(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, "https://push.example.com/b", desc.Endpoint)
	require.Equal(t, "auth-secret", desc.Keys.Auth)

	err = svc.SaveDescriptor(ctx, "user-1", models.PushDescriptor{Endpoint: "not a url"})
	require.ErrorIs(t, err, apperrors.ErrValidation)

	require.NoError(t, svc.DeleteDescriptor(ctx, "user-1"))
	_, err = svc.Descriptor(ctx, "user-1")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestPushService_PublicKey(t *testing.T) {
	db, _ := openServiceDB(t)

	svc, err := NewPushService(db)
	require.NoError(t, err)
	_, err = svc.PublicKey(context.Background())
	require.ErrorIs(t, err, apperrors.ErrUnsupportedPlatform)

	svc, err = NewPushService(db, WithPublicKey(" BPub "))
	require.NoError(t, err)
	key, err := svc.PublicKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "BPub", key)
}

func TestPushService_NotifyMarksGone(t *testing.T) {
	db, _ := openServiceDB(t)
	sender := &fakeSender{}
	svc, err := NewPushService(db, WithPushSender(sender))
	require.NoError(t, err)
	ctx := context.Background()

	// No descriptor is not an error.
	require.NoError(t, svc.Notify(ctx, "user-1", push.Payload{Title: "t", Body: "b"}))
	require.Zero(t, sender.count())

	require.NoError(t, svc.SaveDescriptor(ctx, "user-1", testDescriptor("https://push.example.com/a")))
	require.NoError(t, svc.Notify(ctx, "user-1", push.Payload{Title: "t", Body: "b"}))
	require.Equal(t, 1, sender.count())

	sender.err = push.ErrDescriptorGone
	require.NoError(t, svc.Notify(ctx, "user-1", push.Payload{Title: "t", Body: "b"}))

	_, err = svc.Descriptor(ctx, "user-1")
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	removed, err := svc.PruneGone(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)
}

func TestPushService_NotifyCountsFailures(t *testing.T) {
	db, _ := openServiceDB(t)
	sender := &fakeSender{err: errors.New("push service unavailable")}
	svc, err := NewPushService(db, WithPushSender(sender), WithMaxFailures(2))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, svc.SaveDescriptor(ctx, "user-1", testDescriptor("https://push.example.com/a")))

	require.Error(t, svc.Notify(ctx, "user-1", push.Payload{Body: "one"}))
	_, err = svc.Descriptor(ctx, "user-1")
	require.NoError(t, err)

	require.Error(t, svc.Notify(ctx, "user-1", push.Payload{Body: "two"}))
	_, err = svc.Descriptor(ctx, "user-1")
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	// Registering again revives the subscription.
	require.NoError(t, svc.SaveDescriptor(ctx, "user-1", testDescriptor("https://push.example.com/a")))
	var record models.PushSubscription
	require.NoError(t, db.First(&record, "user_id = ?", "user-1").Error)
	require.Zero(t, record.FailureCount)
	require.Nil(t, record.GoneAt)
}

func TestPushService_CacheFollowsSubscriptionChanges(t *testing.T) {
	db, feed := openServiceDB(t)
	svc, err := NewPushService(db)
	require.NoError(t, err)
	require.NoError(t, svc.WatchSubscriptions(feed))
	t.Cleanup(svc.StopWatching)
	ctx := context.Background()

	require.NoError(t, svc.SaveDescriptor(ctx, "user-1", testDescriptor("https://push.example.com/a")))
	require.Eventually(t, func() bool {
		desc, err := svc.Descriptor(ctx, "user-1")
		return err == nil && desc.Endpoint == "https://push.example.com/a" && svc.cache.size() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// A write that bypasses the service, as another instance would, reaches the cache through the feed.
	moved := testDescriptor("https://push.example.com/b")
	require.NoError(t, db.Model(&models.PushSubscription{UserID: "user-1"}).Updates(map[string]any{
		"descriptor_json": datatypes.NewJSONType(moved),
		"endpoint":        moved.Endpoint,
	}).Error)
	require.Eventually(t, func() bool {
		desc, err := svc.Descriptor(ctx, "user-1")
		return err == nil && desc.Endpoint == moved.Endpoint
	}, 2*time.Second, 10*time.Millisecond)

	// While the feed is interrupted every lookup reads the store.
	feed.Interrupt("test", errors.New("listener down"))
	require.Eventually(t, func() bool {
		_, cached := svc.cache.get("user-1")
		return !cached
	}, 2*time.Second, 10*time.Millisecond)

	silent := testDescriptor("https://push.example.com/c")
	require.NoError(t, db.Exec("UPDATE push_subscriptions SET descriptor_json = ?, endpoint = ? WHERE user_id = ?",
		datatypes.NewJSONType(silent), silent.Endpoint, "user-1").Error)
	desc, err := svc.Descriptor(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, silent.Endpoint, desc.Endpoint)
	require.Zero(t, svc.cache.size())

	feed.Resume("test")
	require.Eventually(t, func() bool {
		_, err := svc.Descriptor(ctx, "user-1")
		return err == nil && svc.cache.size() == 1
	}, 2*time.Second, 10*time.Millisecond)

	svc.StopWatching()
	require.Zero(t, svc.cache.size())
}

func TestDescriptorCache_IgnoresLoadsThatRaceAnEviction(t *testing.T) {
	cache := newDescriptorCache()
	cache.reset(true)

	gen := cache.generation()
	cache.observe(changefeed.Delivery{Kind: changefeed.DeliveryEvent, Event: changefeed.Event{
		Table:     "push_subscriptions",
		Operation: changefeed.OpDelete,
		Before:    changefeed.Row{"user_id": "user-1"},
	}})
	cache.put("user-1", testDescriptor("https://push.example.com/a"), gen)
	_, ok := cache.get("user-1")
	require.False(t, ok)

	cache.put("user-1", testDescriptor("https://push.example.com/a"), cache.generation())
	_, ok = cache.get("user-1")
	require.True(t, ok)
}
