package ledger

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/domain"
)

func consentChain(t *testing.T, c *Chain) []domain.ConsentRecord {
	t.Helper()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	actions := []domain.ConsentAction{domain.ConsentGrant, domain.ConsentWithdraw, domain.ConsentGrant}

	var records []domain.ConsentRecord
	prev := ""
	for i, action := range actions {
		rec := c.SealConsent(domain.ConsentRecord{
			ID:          string(rune('a' + i)),
			UserID:      "user-1",
			ConsentType: "marketing",
			Action:      action,
			RecordedAt:  base.Add(time.Duration(i) * time.Minute),
		}, prev)
		records = append(records, rec)
		prev = rec.Hash
	}
	return records
}

// =============================================================================
// Chain Tests
// =============================================================================

func TestNew_KeyTooLong(t *testing.T) {
	_, err := New(bytes.Repeat([]byte{1}, 65))
	assert.ErrorIs(t, err, ErrKeyTooLong)
}

func TestHash_Deterministic(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)

	h1 := c.Hash("prev", []byte("payload"))
	h2 := c.Hash("prev", []byte("payload"))

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
	assert.NotEqual(t, h1, c.Hash("other", []byte("payload")))
}

func TestHash_KeyChangesDigest(t *testing.T) {
	unkeyed, _ := New(nil)
	keyed, err := New([]byte("secret"))
	require.NoError(t, err)

	assert.NotEqual(t, unkeyed.Hash("", []byte("x")), keyed.Hash("", []byte("x")))
}

func TestHash_ZeroValueChain(t *testing.T) {
	var c Chain
	assert.Len(t, c.Hash("", []byte("x")), 64)
}

// =============================================================================
// Consent Tests
// =============================================================================

func TestVerifyConsent_Valid(t *testing.T) {
	c, _ := New([]byte("k"))
	records := consentChain(t, c)

	assert.Empty(t, records[0].PrevHash)
	assert.Equal(t, records[0].Hash, records[1].PrevHash)
	assert.NoError(t, c.VerifyConsent(records))
	assert.NoError(t, c.VerifyConsent(nil))
}

func TestVerifyConsent_TamperedContent(t *testing.T) {
	c, _ := New(nil)
	records := consentChain(t, c)
	records[1].Action = domain.ConsentGrant

	err := c.VerifyConsent(records)
	require.ErrorIs(t, err, ErrBrokenChain)
	var chainErr *ChainError
	require.ErrorAs(t, err, &chainErr)
	assert.Equal(t, 1, chainErr.Index)
	assert.Equal(t, "content hash mismatch", chainErr.Reason)
}

func TestVerifyConsent_RemovedRecord(t *testing.T) {
	c, _ := New(nil)
	records := consentChain(t, c)
	records = append(records[:1], records[2:]...)

	var chainErr *ChainError
	require.ErrorAs(t, c.VerifyConsent(records), &chainErr)
	assert.Equal(t, 1, chainErr.Index)
	assert.Equal(t, "previous hash mismatch", chainErr.Reason)
}

func TestVerifyConsent_WrongKey(t *testing.T) {
	c, _ := New([]byte("k1"))
	other, _ := New([]byte("k2"))

	assert.ErrorIs(t, other.VerifyConsent(consentChain(t, c)), ErrBrokenChain)
}

// =============================================================================
// Audit Tests
// =============================================================================

func TestVerifyAudits(t *testing.T) {
	c, _ := New(nil)
	a1 := c.SealAudit(domain.ComplianceAudit{
		ID: "a1", Region: "eu-west-1", Regulation: "GDPR", Score: 95, Status: domain.AuditCompliant,
		Findings: []domain.AuditFinding{{Requirement: domain.RequirementConsent, Mandatory: true, Passed: true}},
	}, "")
	a2 := c.SealAudit(domain.ComplianceAudit{ID: "a2", Region: "eu-west-1", Regulation: "GDPR", Score: 75}, a1.Hash)

	assert.NoError(t, c.VerifyAudits([]domain.ComplianceAudit{a1, a2}))

	a1.Findings[0].Passed = false
	assert.ErrorIs(t, c.VerifyAudits([]domain.ComplianceAudit{a1, a2}), ErrBrokenChain)
}
