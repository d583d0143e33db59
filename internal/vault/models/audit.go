package models

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	id "policyvault/pkg/domain"
	dErrors "policyvault/pkg/domain-errors"
)

// Hash is a blake2b-256 digest used to chain audit events.
type Hash [blake2b.Size256]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

func (h Hash) IsZero() bool { return h == Hash{} }

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(b []byte) error {
	if len(b) != hex.EncodedLen(len(h)) {
		return fmt.Errorf("hash: expected %d hex characters, got %d", hex.EncodedLen(len(h)), len(b))
	}
	_, err := hex.Decode(h[:], b)
	return err
}

// AuditEvent is the immutable record of one spend-intent decision.
//
// Sequence is unique and gapless per policy. PolicyVersion is the version in
// effect when the decision was made. PrevHash links to the record with the
// previous sequence, so any edit or reordering of stored records breaks the
// chain even after older records have been reclaimed.
type AuditEvent struct {
	PolicyID      id.PolicyID `json:"policy_id"`
	Sequence      uint64      `json:"sequence"`
	Timestamp     int64       `json:"timestamp"`
	Recipient     id.Identity `json:"recipient"`
	Amount        uint64      `json:"amount"`
	Allowed       bool        `json:"allowed"`
	Reason        ReasonCode  `json:"reason_code"`
	PolicyVersion uint64      `json:"policy_version"`
	PrevHash      Hash        `json:"prev_hash"`
	Hash          Hash        `json:"hash"`
}

// Time returns the decision timestamp as UTC time.
func (e *AuditEvent) Time() time.Time {
	return time.Unix(e.Timestamp, 0).UTC()
}

// ComputeHash digests every field except Hash itself.
func (e *AuditEvent) ComputeHash() Hash {
	buf := make([]byte, 0, 16+8+8+2+len(e.Recipient)+8+1+2+8+len(e.PrevHash))
	policy := uuid.UUID(e.PolicyID)
	buf = append(buf, policy[:]...)
	buf = binary.BigEndian.AppendUint64(buf, e.Sequence)
	buf = binary.BigEndian.AppendUint64(buf, uint64(e.Timestamp))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(e.Recipient)))
	buf = append(buf, e.Recipient...)
	buf = binary.BigEndian.AppendUint64(buf, e.Amount)
	if e.Allowed {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = binary.BigEndian.AppendUint16(buf, uint16(e.Reason))
	buf = binary.BigEndian.AppendUint64(buf, e.PolicyVersion)
	buf = append(buf, e.PrevHash[:]...)
	return blake2b.Sum256(buf)
}

// Seal links the event to prev and fills in its hash.
func (e *AuditEvent) Seal(prev Hash) {
	e.PrevHash = prev
	e.Hash = e.ComputeHash()
}

// VerifyChain checks a run of stored events ordered by sequence: every record
// hash must match its content, and consecutive sequences must be linked.
// Gaps left by reclaimed records are allowed; linkage is only checked across
// adjacent sequence numbers.
func VerifyChain(events []*AuditEvent) error {
	for i, e := range events {
		if e.ComputeHash() != e.Hash {
			return dErrors.New(dErrors.CodeInvariantViolation,
				fmt.Sprintf("audit event %d: hash mismatch", e.Sequence))
		}
		if i == 0 {
			continue
		}
		prev := events[i-1]
		if e.Sequence <= prev.Sequence {
			return dErrors.New(dErrors.CodeInvariantViolation,
				fmt.Sprintf("audit event %d: out of order after %d", e.Sequence, prev.Sequence))
		}
		if e.Sequence == prev.Sequence+1 && e.PrevHash != prev.Hash {
			return dErrors.New(dErrors.CodeInvariantViolation,
				fmt.Sprintf("audit event %d: broken link to %d", e.Sequence, prev.Sequence))
		}
	}
	return nil
}
