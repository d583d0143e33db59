package domain

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "policyvault/pkg/domain-errors"
)

// TestParseUUID_Invariants validates the parsing invariant:
// "record IDs must be valid, non-empty, non-nil UUIDs"
func TestParseUUID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParsePolicyID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParsePolicyID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseVaultID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		validUUID := uuid.New()
		id, err := ParseVaultID(validUUID.String())
		require.NoError(t, err)
		assert.Equal(t, VaultID(validUUID), id)
	})
}

// TestTypeDistinction verifies vault and policy identifiers stay distinct types.
func TestTypeDistinction(t *testing.T) {
	vaultID := NewVaultID()
	policyID := NewPolicyID()

	// var _ VaultID = policyID   // compile error
	assert.NotEqual(t, uuid.UUID(vaultID), uuid.UUID(policyID))
	assert.False(t, vaultID.IsNil())
	assert.True(t, PolicyID{}.IsNil())
}

func TestParseIdentity(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"Empty string", "", true},
		{"Whitespace only", "   ", true},
		{"Embedded space", "alice bob", true},
		{"Null byte injection", "alice\x00", true},
		{"Unicode zero-width space", "alice\u200bbob", true},
		{"Oversized input", strings.Repeat("a", MaxIdentityLength+1), true},
		{"Invalid UTF-8", string([]byte{0xff, 0xfe}), true},
		{"Base58 public key", "DiWRnGf1JpqZrL8n9dUA9bUaJ4ruBVvmmKBcrdp7tJLD", false},
		{"Email-like principal", "agent@example.com", false},
		{"Max length", strings.Repeat("a", MaxIdentityLength), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := ParseIdentity(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, Identity(tt.input), id)
		})
	}
}

func TestIDTextRoundTrip(t *testing.T) {
	original := NewPolicyID()
	text, err := original.MarshalText()
	require.NoError(t, err)

	var decoded PolicyID
	require.NoError(t, decoded.UnmarshalText(text))
	assert.Equal(t, original, decoded)
}
