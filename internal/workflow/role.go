package workflow

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// Role is the closed set of account roles. The zero value is not a valid role.
type Role uint8

const (
	RoleRequester Role = iota + 1
	RoleResolver
)

const (
	roleRequesterToken = "requester"
	roleResolverToken  = "resolver"
)

// ParseRole converts a persisted token into a Role.
func ParseRole(value string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case roleRequesterToken:
		return RoleRequester, nil
	case roleResolverToken:
		return RoleResolver, nil
	default:
		return 0, fmt.Errorf("workflow: unknown role %q", value)
	}
}

func (r Role) String() string {
	switch r {
	case RoleRequester:
		return roleRequesterToken
	case RoleResolver:
		return roleResolverToken
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// Valid reports whether r is one of the two roles.
func (r Role) Valid() bool {
	return r == RoleRequester || r == RoleResolver
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("workflow: invalid role %d", uint8(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Value implements driver.Valuer.
func (r Role) Value() (driver.Value, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("workflow: invalid role %d", uint8(r))
	}
	return r.String(), nil
}

// Scan implements sql.Scanner.
func (r *Role) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return r.UnmarshalText([]byte(v))
	case []byte:
		return r.UnmarshalText(v)
	default:
		return fmt.Errorf("workflow: cannot scan %T into Role", src)
	}
}
