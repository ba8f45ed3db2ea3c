package push

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/ticketdesk/internal/models"
)

func testDescriptor(t *testing.T, endpoint string) models.PushDescriptor {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)
	return models.PushDescriptor{
		Endpoint: endpoint,
		Keys: models.PushKeys{
			P256dh: base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
			Auth:   base64.RawURLEncoding.EncodeToString(auth),
		},
	}
}

func TestWebPushSenderStatusMapping(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusCreated)
	var sawVAPID atomic.Bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.Header.Get("Authorization"), "vapid ") {
			sawVAPID.Store(true)
		}
		w.WriteHeader(int(status.Load()))
	}))
	t.Cleanup(srv.Close)

	private, public, err := GenerateVAPIDKeys()
	require.NoError(t, err)
	sender, err := NewWebPushSender(SenderConfig{PublicKey: public, PrivateKey: private, Subscriber: "ops@example.com"})
	require.NoError(t, err)

	descriptor := testDescriptor(t, srv.URL+"/push/abc")
	payload := Payload{Title: "Ticket #1", Body: "hello"}

	require.NoError(t, sender.Send(context.Background(), descriptor, payload))
	require.True(t, sawVAPID.Load())

	status.Store(http.StatusGone)
	require.ErrorIs(t, sender.Send(context.Background(), descriptor, payload), ErrDescriptorGone)

	status.Store(http.StatusNotFound)
	require.ErrorIs(t, sender.Send(context.Background(), descriptor, payload), ErrDescriptorGone)

	status.Store(http.StatusInternalServerError)
	err = sender.Send(context.Background(), descriptor, payload)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrDescriptorGone)
}

func TestNewWebPushSenderRequiresKeys(t *testing.T) {
	_, err := NewWebPushSender(SenderConfig{})
	require.Error(t, err)
}
