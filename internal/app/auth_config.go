package app

import (
	"strings"

	"github.com/charlesng35/ticketdesk/internal/auth"
)

// DefaultJWTIssuer is stamped into access tokens when auth.jwt.issuer is empty.
const DefaultJWTIssuer = "ticketdesk"

// JWTServiceConfig converts the auth section into JWT service settings. Tokens minted by the
// identity provider must carry the same issuer and secret.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	out := auth.JWTConfig{
		Secret:         c.JWT.Secret,
		Issuer:         strings.TrimSpace(c.JWT.Issuer),
		AccessTokenTTL: c.JWT.TTL,
	}
	if out.Issuer == "" {
		out.Issuer = DefaultJWTIssuer
	}
	if out.AccessTokenTTL <= 0 {
		out.AccessTokenTTL = auth.DefaultAccessTokenTTL
	}
	return out
}
