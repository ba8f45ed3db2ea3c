package push

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeDisplay struct {
	mu     sync.Mutex
	shown  []Notification
	closed []string
	panic  bool
}

func (d *fakeDisplay) Show(_ context.Context, n Notification) error {
	if d.panic {
		panic("display crashed")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shown = append(d.shown, n)
	return nil
}

func (d *fakeDisplay) Close(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = append(d.closed, id)
	return nil
}

func (d *fakeDisplay) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.shown)
}

type fakeWindow struct {
	url     string
	focused int
}

func (w *fakeWindow) URL() string { return w.url }

func (w *fakeWindow) Focus(context.Context) error {
	w.focused++
	return nil
}

type fakeWindows struct {
	open   []*fakeWindow
	opened []string
}

func (w *fakeWindows) List(context.Context) ([]Window, error) {
	out := make([]Window, 0, len(w.open))
	for _, win := range w.open {
		out = append(out, win)
	}
	return out, nil
}

func (w *fakeWindows) Open(_ context.Context, url string) (Window, error) {
	w.opened = append(w.opened, url)
	win := &fakeWindow{url: url}
	w.open = append(w.open, win)
	return win, nil
}

func TestHandlePushShowsNotification(t *testing.T) {
	display := &fakeDisplay{}
	worker := NewDeliveryWorker(display, &fakeWindows{})

	worker.HandlePush(context.Background(), []byte(`{"title":"New ticket","body":"New ticket #1 (Leak...)","url":"/tickets/1","extra":{}}`))
	worker.HandlePush(context.Background(), []byte(`garbage`))
	worker.HandlePush(context.Background(), []byte(`{"title":"No url"}`))

	require.Len(t, display.shown, 2)
	require.Equal(t, "/tickets/1", display.shown[0].URL)
	require.NotEmpty(t, display.shown[0].ID)
	require.Equal(t, DefaultURL, display.shown[1].URL)
}

func TestHandlePushSurvivesPanics(t *testing.T) {
	worker := NewDeliveryWorker(&fakeDisplay{panic: true}, &fakeWindows{})
	require.NotPanics(t, func() {
		worker.HandlePush(context.Background(), []byte(`{"title":"x"}`))
	})
}

func TestHandleClickFocusesExistingWindow(t *testing.T) {
	display := &fakeDisplay{}
	existing := &fakeWindow{url: "https://desk.example.com/tickets/1"}
	windows := &fakeWindows{open: []*fakeWindow{{url: "https://desk.example.com/"}, existing}}
	worker := NewDeliveryWorker(display, windows, WithOrigin("https://desk.example.com"))

	n := Notification{ID: "n1", URL: "/tickets/1"}
	worker.HandleClick(context.Background(), n)
	worker.HandleClick(context.Background(), n)

	require.Equal(t, []string{"n1", "n1"}, display.closed)
	require.Equal(t, 2, existing.focused)
	require.Empty(t, windows.opened)
}

func TestHandleClickOpensWindowOnce(t *testing.T) {
	windows := &fakeWindows{}
	worker := NewDeliveryWorker(&fakeDisplay{}, windows)

	worker.HandleClick(context.Background(), Notification{ID: "n1"})
	worker.HandleClick(context.Background(), Notification{ID: "n2", URL: "/"})

	require.Equal(t, []string{"/"}, windows.opened)
	require.Equal(t, 1, windows.open[0].focused)
}

func TestRunProcessesUntilCancelled(t *testing.T) {
	display := &fakeDisplay{}
	worker := NewDeliveryWorker(display, &fakeWindows{})

	ctx, cancel := context.WithCancel(context.Background())
	pushes := make(chan []byte)
	clicks := make(chan Notification)
	done := make(chan struct{})
	go func() {
		worker.Run(ctx, pushes, clicks)
		close(done)
	}()

	pushes <- []byte(`{"title":"a"}`)
	pushes <- []byte(`{{`)
	pushes <- []byte(`{"title":"b"}`)
	require.Eventually(t, func() bool { return display.count() == 2 }, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
