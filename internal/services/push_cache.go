package services

import (
	"fmt"
	"sync"

	"github.com/charlesng35/ticketdesk/internal/changefeed"
	"github.com/charlesng35/ticketdesk/internal/models"
)

// descriptorCache holds active descriptors between pushes. It only serves entries while a
// change feed subscription on push_subscriptions is live; every change event evicts the user
// it names and an interruption empties and disables it until the feed resumes.
type descriptorCache struct {
	mu      sync.Mutex
	live    bool
	gen     uint64
	entries map[string]models.PushDescriptor
	handle  *changefeed.Handle
}

func newDescriptorCache() *descriptorCache {
	return &descriptorCache{entries: make(map[string]models.PushDescriptor)}
}

func (c *descriptorCache) get(userID string) (models.PushDescriptor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.live {
		return models.PushDescriptor{}, false
	}
	descriptor, ok := c.entries[userID]
	return descriptor, ok
}

// generation is read before a store load; put ignores loads that raced an eviction.
func (c *descriptorCache) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

func (c *descriptorCache) put(userID string, descriptor models.PushDescriptor, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live && c.gen == gen {
		c.entries[userID] = descriptor
	}
}

func (c *descriptorCache) forget(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
	c.gen++
}

func (c *descriptorCache) reset(live bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
	c.live = live
	c.gen++
}

func (c *descriptorCache) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
	c.gen++
}

func (c *descriptorCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *descriptorCache) observe(d changefeed.Delivery) {
	switch d.Kind {
	case changefeed.DeliveryEvent:
		userID, ok := d.Event.Row()["user_id"]
		if !ok || userID == nil {
			c.reset(true)
			return
		}
		c.forget(fmt.Sprint(userID))
	case changefeed.DeliveryInterrupted:
		c.reset(false)
	case changefeed.DeliveryResumed:
		c.reset(true)
	}
}

// WatchSubscriptions turns on descriptor caching, kept coherent by push_subscriptions events
// from feed. Writes by other instances arrive through the same feed.
func (s *PushService) WatchSubscriptions(feed changefeed.Subscriber) error {
	if feed == nil {
		return fmt.Errorf("push service: feed is required")
	}
	s.cache.mu.Lock()
	watching := s.cache.handle != nil
	s.cache.mu.Unlock()
	if watching {
		return nil
	}

	s.cache.reset(true)
	filter := changefeed.Filter{Table: models.PushSubscription{}.TableName(), Operation: changefeed.OpAny}
	handle, err := feed.Subscribe(filter, s.cache.observe)
	if err != nil {
		s.cache.reset(false)
		return fmt.Errorf("push service: watch subscriptions: %w", err)
	}

	s.cache.mu.Lock()
	s.cache.handle = handle
	s.cache.mu.Unlock()
	return nil
}

// StopWatching cancels the subscription and disables caching.
func (s *PushService) StopWatching() {
	s.cache.mu.Lock()
	handle := s.cache.handle
	s.cache.handle = nil
	s.cache.mu.Unlock()
	if handle != nil {
		handle.Cancel()
	}
	s.cache.reset(false)
}
