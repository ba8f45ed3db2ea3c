package app

import (
	"strings"

	"github.com/charlesng35/ticketdesk/internal/push"
)

// SenderConfig converts the push section into the web push sender identity.
func (c PushConfig) SenderConfig() push.SenderConfig {
	return push.SenderConfig{
		PublicKey:  strings.TrimSpace(c.VAPIDPublicKey),
		PrivateKey: strings.TrimSpace(c.VAPIDPrivateKey),
		Subscriber: strings.TrimSpace(c.Subscriber),
		TTL:        c.TTL,
	}
}
