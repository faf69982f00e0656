// Package ledger provides tamper-evident hash chaining for append-only
// records such as consent entries and compliance audits.
// This is part of the Functional Core - all functions are pure with no I/O.
//
// Every record stores the hash of its predecessor and its own hash computed
// over (previous hash, canonical payload) with BLAKE2b-256, optionally keyed.
package ledger

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/domain"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrKeyTooLong is returned when the MAC key exceeds 64 bytes.
	ErrKeyTooLong = errors.New("ledger key must be at most 64 bytes")

	// ErrBrokenChain is returned when verification finds a tampered record.
	ErrBrokenChain = errors.New("ledger chain broken")
)

// ChainError identifies the first record that failed verification.
type ChainError struct {
	Index  int
	ID     string
	Reason string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("%s at record %d (%s): %s", ErrBrokenChain, e.Index, e.ID, e.Reason)
}

func (e *ChainError) Unwrap() error {
	return ErrBrokenChain
}

// =============================================================================
// Chain
// =============================================================================

// Chain hashes records. The zero value is an unkeyed chain.
type Chain struct {
	key []byte
}

// New creates a chain. A non-empty key turns the hash into a MAC so records
// cannot be re-chained without it.
func New(key []byte) (*Chain, error) {
	if len(key) > blake2b.Size {
		return nil, ErrKeyTooLong
	}
	return &Chain{key: append([]byte(nil), key...)}, nil
}

// Hash returns the hex digest linking payload to prev.
func (c *Chain) Hash(prev string, payload []byte) string {
	h, err := blake2b.New256(c.key)
	if err != nil {
		// Key length is validated in New.
		panic(err)
	}
	h.Write([]byte(prev))
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// =============================================================================
// Consent Records
// =============================================================================

// SealConsent sets PrevHash and Hash on a consent record.
func (c *Chain) SealConsent(rec domain.ConsentRecord, prev string) domain.ConsentRecord {
	rec.PrevHash = prev
	rec.Hash = c.Hash(prev, ConsentPayload(rec))
	return rec
}

// VerifyConsent checks an ordered consent chain from its first record.
func (c *Chain) VerifyConsent(records []domain.ConsentRecord) error {
	prev := ""
	for i, rec := range records {
		if rec.PrevHash != prev {
			return &ChainError{Index: i, ID: rec.ID, Reason: "previous hash mismatch"}
		}
		if want := c.Hash(prev, ConsentPayload(rec)); rec.Hash != want {
			return &ChainError{Index: i, ID: rec.ID, Reason: "content hash mismatch"}
		}
		prev = rec.Hash
	}
	return nil
}

// ConsentPayload is the canonical byte form of a consent record's content.
func ConsentPayload(rec domain.ConsentRecord) []byte {
	return []byte(strings.Join([]string{
		rec.ID,
		rec.UserID,
		rec.ConsentType,
		string(rec.Action),
		rec.RecordedAt.UTC().Format(time.RFC3339Nano),
	}, "|"))
}

// =============================================================================
// Compliance Audits
// =============================================================================

// SealAudit sets PrevHash and Hash on an audit.
func (c *Chain) SealAudit(a domain.ComplianceAudit, prev string) domain.ComplianceAudit {
	a.PrevHash = prev
	a.Hash = c.Hash(prev, AuditPayload(a))
	return a
}

// VerifyAudits checks an ordered audit chain from its first record.
func (c *Chain) VerifyAudits(audits []domain.ComplianceAudit) error {
	prev := ""
	for i, a := range audits {
		if a.PrevHash != prev {
			return &ChainError{Index: i, ID: a.ID, Reason: "previous hash mismatch"}
		}
		if want := c.Hash(prev, AuditPayload(a)); a.Hash != want {
			return &ChainError{Index: i, ID: a.ID, Reason: "content hash mismatch"}
		}
		prev = a.Hash
	}
	return nil
}

// AuditPayload is the canonical byte form of an audit's content.
func AuditPayload(a domain.ComplianceAudit) []byte {
	parts := []string{
		a.ID,
		a.Region,
		a.Regulation,
		strconv.Itoa(a.Score),
		string(a.Status),
		a.AuditedAt.UTC().Format(time.RFC3339Nano),
	}
	for _, f := range a.Findings {
		parts = append(parts, fmt.Sprintf("%s:%t:%t:%s", f.Requirement, f.Mandatory, f.Passed, f.Detail))
	}
	return []byte(strings.Join(parts, "|"))
}
