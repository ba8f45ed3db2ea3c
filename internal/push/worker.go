package push

import (
	"context"
	"net/url"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/charlesng35/ticketdesk/pkg/logger"
)

// Notification is a system notification shown by the agent.
type Notification struct {
	ID    string
	Title string
	Body  string
	// URL is the contextual data opened on click.
	URL string
}

// Display shows and dismisses system notifications.
type Display interface {
	Show(ctx context.Context, n Notification) error
	Close(ctx context.Context, id string) error
}

// Window is an open client window.
type Window interface {
	URL() string
	Focus(ctx context.Context) error
}

// Windows enumerates and opens client windows.
type Windows interface {
	List(ctx context.Context) ([]Window, error)
	Open(ctx context.Context, url string) (Window, error)
}

// DeliveryWorker is the background agent logic. It never returns errors to its host: failures
// are logged and the worker keeps running.
type DeliveryWorker struct {
	display Display
	windows Windows
	origin  *url.URL
	log     *zap.Logger
}

// WorkerOption customises a DeliveryWorker.
type WorkerOption func(*DeliveryWorker)

// WithOrigin resolves relative payload urls against origin before comparing window locations.
func WithOrigin(origin string) WorkerOption {
	return func(w *DeliveryWorker) {
		if parsed, err := url.Parse(origin); err == nil && parsed.IsAbs() {
			w.origin = parsed
		}
	}
}

// NewDeliveryWorker builds a worker.
func NewDeliveryWorker(display Display, windows Windows, opts ...WorkerOption) *DeliveryWorker {
	w := &DeliveryWorker{
		display: display,
		windows: windows,
		log:     logger.WithModule("push.worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// HandlePush shows a notification for data. Malformed payloads are dropped.
func (w *DeliveryWorker) HandlePush(ctx context.Context, data []byte) {
	defer w.recover("push")

	payload, err := DecodePayload(data)
	if err != nil {
		w.log.Debug("dropping push payload", zap.Error(err))
		return
	}

	n := Notification{
		ID:    uuid.NewString(),
		Title: payload.Title,
		Body:  payload.Body,
		URL:   payload.URL,
	}
	if err := w.display.Show(ctx, n); err != nil {
		w.log.Warn("failed to show notification", zap.Error(err))
	}
}

// HandleClick closes n and focuses the window already showing its url, or opens one.
func (w *DeliveryWorker) HandleClick(ctx context.Context, n Notification) {
	defer w.recover("click")

	if err := w.display.Close(ctx, n.ID); err != nil {
		w.log.Debug("failed to close notification", zap.Error(err))
	}

	target := w.resolve(n.URL)

	windows, err := w.windows.List(ctx)
	if err != nil {
		w.log.Warn("failed to list windows", zap.Error(err))
	}
	for _, win := range windows {
		if win.URL() == target {
			if err := win.Focus(ctx); err != nil {
				w.log.Warn("failed to focus window", zap.Error(err))
			}
			return
		}
	}

	if _, err := w.windows.Open(ctx, target); err != nil {
		w.log.Warn("failed to open window", zap.String("url", target), zap.Error(err))
	}
}

// Run serves pushes and clicks until ctx is done.
func (w *DeliveryWorker) Run(ctx context.Context, pushes <-chan []byte, clicks <-chan Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-pushes:
			if !ok {
				pushes = nil
				continue
			}
			w.HandlePush(ctx, data)
		case n, ok := <-clicks:
			if !ok {
				clicks = nil
				continue
			}
			w.HandleClick(ctx, n)
		}
	}
}

func (w *DeliveryWorker) resolve(target string) string {
	if target == "" {
		target = DefaultURL
	}
	if w.origin == nil {
		return target
	}
	ref, err := url.Parse(target)
	if err != nil {
		return target
	}
	return w.origin.ResolveReference(ref).String()
}

func (w *DeliveryWorker) recover(stage string) {
	if r := recover(); r != nil {
		w.log.Error("delivery worker recovered from panic", zap.String("stage", stage), zap.Any("panic", r))
	}
}
