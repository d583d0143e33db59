// Package domain holds typed identifiers shared across modules.
//
// Record identifiers are distinct UUID types so a PolicyID can never be passed
// where a VaultID is expected. Principals (owners, authorities, agents and
// recipients) are opaque Identity strings issued and authenticated upstream.
package domain

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	dErrors "policyvault/pkg/domain-errors"
)

// MaxIdentityLength bounds identity strings at trust boundaries.
const MaxIdentityLength = 128

type (
	VaultID  uuid.UUID
	PolicyID uuid.UUID
)

// Identity is an authenticated principal or a transfer destination.
type Identity string

func NewVaultID() VaultID   { return VaultID(uuid.New()) }
func NewPolicyID() PolicyID { return PolicyID(uuid.New()) }

func (id VaultID) String() string  { return uuid.UUID(id).String() }
func (id PolicyID) String() string { return uuid.UUID(id).String() }

func (id VaultID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id PolicyID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func (id VaultID) MarshalText() ([]byte, error)  { return uuid.UUID(id).MarshalText() }
func (id PolicyID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *VaultID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id *PolicyID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func ParseVaultID(s string) (VaultID, error) {
	u, err := parseUUID(s, "vault_id")
	return VaultID(u), err
}

func ParsePolicyID(s string) (PolicyID, error) {
	u, err := parseUUID(s, "policy_id")
	return PolicyID(u), err
}

func parseUUID(s, field string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+field)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" cannot be nil")
	}
	return u, nil
}

// ParseIdentity validates an identity string: non-empty, bounded, valid UTF-8,
// and free of whitespace and control characters.
func ParseIdentity(s string) (Identity, error) {
	if strings.TrimSpace(s) == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "identity is required")
	}
	if len(s) > MaxIdentityLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, "identity is too long")
	}
	if !utf8.ValidString(s) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "identity must be valid UTF-8")
	}
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) || r == '\u200b' {
			return "", dErrors.New(dErrors.CodeInvalidInput, "identity contains invalid characters")
		}
	}
	return Identity(s), nil
}

func (i Identity) String() string { return string(i) }

func (i Identity) IsZero() bool { return i == "" }
