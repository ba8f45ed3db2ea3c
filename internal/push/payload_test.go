package push

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodePayload(t *testing.T) {
	p, err := DecodePayload([]byte(`{"title":"Ticket #4","body":"Ticket #4 updated to: RESOLVED","url":"/tickets/4","badge":3}`))
	require.NoError(t, err)
	require.Equal(t, Payload{Title: "Ticket #4", Body: "Ticket #4 updated to: RESOLVED", URL: "/tickets/4"}, p)

	p, err = DecodePayload([]byte(`{"title":"Hi","body":"there"}`))
	require.NoError(t, err)
	require.Equal(t, DefaultURL, p.URL)

	p, err = DecodePayload([]byte(`{"title":7,"body":null,"url":""}`))
	require.NoError(t, err)
	require.Equal(t, "7", p.Title)
	require.Empty(t, p.Body)
	require.Equal(t, DefaultURL, p.URL)

	for _, bad := range []string{``, `not json`, `[1,2]`, `"text"`, `null`} {
		_, err := DecodePayload([]byte(bad))
		require.Error(t, err, bad)
	}
}

func TestPayloadEncodeDefaultsURL(t *testing.T) {
	data, err := Payload{Title: "a", Body: "b"}.Encode()
	require.NoError(t, err)
	require.JSONEq(t, `{"title":"a","body":"b","url":"/"}`, string(data))
}

func TestDecodeApplicationServerKey(t *testing.T) {
	_, public, err := GenerateVAPIDKeys()
	require.NoError(t, err)

	raw, err := DecodeApplicationServerKey(public)
	require.NoError(t, err)
	require.Len(t, raw, 65)
	require.Equal(t, byte(0x04), raw[0])

	padded := base64.URLEncoding.EncodeToString(raw)
	again, err := DecodeApplicationServerKey(padded)
	require.NoError(t, err)
	require.Equal(t, raw, again)

	std := base64.StdEncoding.EncodeToString(raw)
	again, err = DecodeApplicationServerKey(std)
	require.NoError(t, err)
	require.Equal(t, raw, again)

	_, err = DecodeApplicationServerKey("")
	require.Error(t, err)
	_, err = DecodeApplicationServerKey("%%%")
	require.Error(t, err)
	_, err = DecodeApplicationServerKey(base64.RawURLEncoding.EncodeToString([]byte("short")))
	require.Error(t, err)
}
