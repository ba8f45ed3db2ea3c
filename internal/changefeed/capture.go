package changefeed

import (
	"reflect"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/ticketdesk/pkg/logger"
)

const (
	captureName        = "changefeed:capture"
	pendingEventsKey   = "changefeed:pending"
	beforeImagesKey    = "changefeed:before"
	commitCallbackName = "gorm:commit_or_rollback_transaction"
)

// Capture is a gorm plugin that records row images of writes addressed by primary key on the
// watched tables and publishes them once the statement's own transaction commits.
type Capture struct {
	publisher Publisher
	tables    map[string]struct{}
	log       *zap.Logger
}

// NewCapture builds the plugin for the named tables.
func NewCapture(publisher Publisher, tables ...string) *Capture {
	watched := make(map[string]struct{}, len(tables))
	for _, table := range tables {
		watched[table] = struct{}{}
	}
	return &Capture{
		publisher: publisher,
		tables:    watched,
		log:       logger.WithModule("changefeed.capture"),
	}
}

// Name implements gorm.Plugin.
func (c *Capture) Name() string {
	return captureName
}

// Initialize implements gorm.Plugin.
func (c *Capture) Initialize(db *gorm.DB) error {
	cb := db.Callback()

	if err := cb.Create().After("gorm:create").Before(commitCallbackName).
		Register("changefeed:after_create", c.afterCreate); err != nil {
		return err
	}
	if err := cb.Create().After(commitCallbackName).
		Register("changefeed:publish_create", c.publish); err != nil {
		return err
	}

	if err := cb.Update().After("gorm:setup_reflect_value").Before("gorm:update").
		Register("changefeed:before_update", c.beforeWrite); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").Before(commitCallbackName).
		Register("changefeed:after_update", c.afterUpdate); err != nil {
		return err
	}
	if err := cb.Update().After(commitCallbackName).
		Register("changefeed:publish_update", c.publish); err != nil {
		return err
	}

	if err := cb.Delete().After("gorm:begin_transaction").Before("gorm:delete").
		Register("changefeed:before_delete", c.beforeWrite); err != nil {
		return err
	}
	if err := cb.Delete().After("gorm:delete").Before(commitCallbackName).
		Register("changefeed:after_delete", c.afterDelete); err != nil {
		return err
	}
	return cb.Delete().After(commitCallbackName).
		Register("changefeed:publish_delete", c.publish)
}

func (c *Capture) watched(db *gorm.DB) bool {
	if db.Error != nil || db.Statement.Schema == nil {
		return false
	}
	_, ok := c.tables[db.Statement.Table]
	return ok
}

func (c *Capture) beforeWrite(db *gorm.DB) {
	if !c.watched(db) {
		return
	}
	keys := primaryKeys(db)
	if len(keys) == 0 {
		return
	}
	images := make(map[any]Row, len(keys))
	for _, key := range keys {
		if row, ok := c.load(db, key); ok {
			images[key] = row
		}
	}
	db.InstanceSet(beforeImagesKey, images)
}

func (c *Capture) afterCreate(db *gorm.DB) {
	if !c.watched(db) || db.RowsAffected == 0 {
		return
	}
	for _, key := range primaryKeys(db) {
		if row, ok := c.load(db, key); ok {
			c.stage(db, Event{Table: db.Statement.Table, Operation: OpInsert, After: row})
		}
	}
}

func (c *Capture) afterUpdate(db *gorm.DB) {
	if !c.watched(db) || db.RowsAffected == 0 {
		return
	}
	before := beforeImages(db)
	for _, key := range primaryKeys(db) {
		after, ok := c.load(db, key)
		if !ok {
			continue
		}
		c.stage(db, Event{Table: db.Statement.Table, Operation: OpUpdate, Before: before[key], After: after})
	}
}

func (c *Capture) afterDelete(db *gorm.DB) {
	if !c.watched(db) || db.RowsAffected == 0 {
		return
	}
	for key, row := range beforeImages(db) {
		if _, still := c.load(db, key); still {
			continue
		}
		c.stage(db, Event{Table: db.Statement.Table, Operation: OpDelete, Before: row})
	}
}

// publish runs after commit. Rolled back statements never reach subscribers.
func (c *Capture) publish(db *gorm.DB) {
	value, ok := db.InstanceGet(pendingEventsKey)
	if !ok {
		return
	}
	db.InstanceSet(pendingEventsKey, []Event(nil))
	if db.Error != nil {
		return
	}
	events, _ := value.([]Event)
	for _, evt := range events {
		c.publisher.Publish(evt)
	}
}

func (c *Capture) stage(db *gorm.DB, evt Event) {
	evt.ID = uuid.NewString()
	evt.CommittedAt = time.Now().UTC()
	var pending []Event
	if value, ok := db.InstanceGet(pendingEventsKey); ok {
		pending, _ = value.([]Event)
	}
	db.InstanceSet(pendingEventsKey, append(pending, evt))
}

func (c *Capture) load(db *gorm.DB, key any) (Row, bool) {
	field := db.Statement.Schema.PrioritizedPrimaryField
	if field == nil {
		return nil, false
	}
	row := map[string]any{}
	err := db.Session(&gorm.Session{NewDB: true, SkipHooks: true}).
		WithContext(db.Statement.Context).
		Table(db.Statement.Table).
		Where(map[string]any{field.DBName: key}).
		Take(&row).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			c.log.Warn("failed to load row image", zap.String("table", db.Statement.Table), zap.Error(err))
		}
		return nil, false
	}
	return normalizeRow(row), true
}

func beforeImages(db *gorm.DB) map[any]Row {
	value, ok := db.InstanceGet(beforeImagesKey)
	if !ok {
		return nil
	}
	images, _ := value.(map[any]Row)
	return images
}

// primaryKeys returns the non-zero primary key values addressed by the statement model.
func primaryKeys(db *gorm.DB) []any {
	stmt := db.Statement
	field := stmt.Schema.PrioritizedPrimaryField
	if field == nil {
		return nil
	}

	var keys []any
	collect := func(value reflect.Value) {
		if key, zero := field.ValueOf(stmt.Context, value); !zero {
			keys = append(keys, key)
		}
	}

	rv := stmt.ReflectValue
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			collect(reflect.Indirect(rv.Index(i)))
		}
	case reflect.Struct:
		collect(rv)
	}
	return keys
}

func normalizeRow(row map[string]any) Row {
	out := make(Row, len(row))
	for column, value := range row {
		switch v := value.(type) {
		case []byte:
			out[column] = string(v)
		case time.Time:
			out[column] = v.UTC()
		default:
			out[column] = v
		}
	}
	return out
}
