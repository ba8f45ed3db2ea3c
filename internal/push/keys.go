package push

import (
	"encoding/base64"
	"fmt"
	"strings"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// applicationServerKeyLength is an uncompressed P-256 point.
const applicationServerKeyLength = 65

// DecodeApplicationServerKey converts the URL-safe base64 public key into the raw bytes a push
// agent expects. Padding is optional and standard base64 is accepted as well.
func DecodeApplicationServerKey(value string) ([]byte, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil, fmt.Errorf("push: application server key is empty")
	}

	var (
		decoded []byte
		err     error
	)
	for _, enc := range []*base64.Encoding{
		base64.RawURLEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.StdEncoding,
	} {
		if decoded, err = enc.DecodeString(v); err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("push: decode application server key: %w", err)
	}

	if len(decoded) != applicationServerKeyLength || decoded[0] != 0x04 {
		return nil, fmt.Errorf("push: application server key must be a %d byte uncompressed P-256 point", applicationServerKeyLength)
	}
	return decoded, nil
}

// GenerateVAPIDKeys returns a new URL-safe base64 encoded key pair.
func GenerateVAPIDKeys() (privateKey, publicKey string, err error) {
	privateKey, publicKey, err = webpush.GenerateVAPIDKeys()
	if err != nil {
		return "", "", fmt.Errorf("push: generate vapid keys: %w", err)
	}
	return privateKey, publicKey, nil
}
