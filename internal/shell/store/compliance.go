package store

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/domain"
)

// =============================================================================
// Compliance Audit Operations
// =============================================================================

type auditRow struct {
	ID         string `db:"id"`
	Region     string `db:"region"`
	Regulation string `db:"regulation"`
	Score      int    `db:"score"`
	Status     string `db:"status"`
	Findings   string `db:"findings"`
	AuditedAt  string `db:"audited_at"`
	PrevHash   string `db:"prev_hash"`
	Hash       string `db:"hash"`
}

func createAudit(ctx context.Context, exec executor, a *domain.ComplianceAudit) error {
	findingsJSON, err := json.Marshal(a.Findings)
	if err != nil {
		return NewStoreError("CreateAudit", "audit", a.ID, "failed to serialize findings", ErrInvalidData)
	}

	query := `
		INSERT INTO compliance_audits (id, region, regulation, score, status, findings, audited_at, prev_hash, hash)
		VALUES (:id, :region, :regulation, :score, :status, :findings, :audited_at, :prev_hash, :hash)`

	row := auditRow{
		ID:         a.ID,
		Region:     a.Region,
		Regulation: a.Regulation,
		Score:      a.Score,
		Status:     string(a.Status),
		Findings:   string(findingsJSON),
		AuditedAt:  formatTime(a.AuditedAt),
		PrevHash:   a.PrevHash,
		Hash:       a.Hash,
	}

	if _, err := exec.NamedExecContext(ctx, query, row); err != nil {
		if isUniqueViolation(err) {
			return NewStoreError("CreateAudit", "audit", a.ID, "audit with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateAudit", "audit", a.ID, err.Error(), err)
	}
	return nil
}

// listAudits returns audits in ledger order, oldest first.
func listAudits(ctx context.Context, exec executor, filter AuditFilter) ([]domain.ComplianceAudit, error) {
	opts := filter.ListOptions.Normalize()

	var where []string
	var args []any
	if filter.Region != "" {
		where = append(where, "region = ?")
		args = append(args, filter.Region)
	}
	if filter.Regulation != "" {
		where = append(where, "regulation = ?")
		args = append(args, filter.Regulation)
	}

	query := `SELECT id, region, regulation, score, status, findings, audited_at, prev_hash, hash FROM compliance_audits`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq LIMIT ? OFFSET ?"
	args = append(args, opts.Limit, opts.Offset)

	var rows []auditRow
	if err := exec.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, NewStoreError("ListAudits", "audit", "", err.Error(), err)
	}

	audits := make([]domain.ComplianceAudit, 0, len(rows))
	for _, row := range rows {
		a := domain.ComplianceAudit{
			ID:         row.ID,
			Region:     row.Region,
			Regulation: row.Regulation,
			Score:      row.Score,
			Status:     domain.AuditStatus(row.Status),
			PrevHash:   row.PrevHash,
			Hash:       row.Hash,
		}
		if err := json.Unmarshal([]byte(row.Findings), &a.Findings); err != nil {
			return nil, NewStoreError("ListAudits", "audit", row.ID, "failed to parse findings", ErrInvalidData)
		}
		auditedAt, err := parseTime(row.AuditedAt)
		if err != nil {
			return nil, NewStoreError("ListAudits", "audit", row.ID, "failed to parse audited_at", ErrInvalidData)
		}
		a.AuditedAt = auditedAt
		audits = append(audits, a)
	}
	return audits, nil
}

// =============================================================================
// Consent Ledger Operations
// =============================================================================

type consentRow struct {
	ID          string `db:"id"`
	UserID      string `db:"user_id"`
	ConsentType string `db:"consent_type"`
	Action      string `db:"action"`
	RecordedAt  string `db:"recorded_at"`
	PrevHash    string `db:"prev_hash"`
	Hash        string `db:"hash"`
}

func appendConsent(ctx context.Context, exec executor, rec *domain.ConsentRecord) error {
	query := `
		INSERT INTO consent_records (id, user_id, consent_type, action, recorded_at, prev_hash, hash)
		VALUES (:id, :user_id, :consent_type, :action, :recorded_at, :prev_hash, :hash)`

	row := consentRow{
		ID:          rec.ID,
		UserID:      rec.UserID,
		ConsentType: rec.ConsentType,
		Action:      string(rec.Action),
		RecordedAt:  formatTime(rec.RecordedAt),
		PrevHash:    rec.PrevHash,
		Hash:        rec.Hash,
	}

	if _, err := exec.NamedExecContext(ctx, query, row); err != nil {
		if isUniqueViolation(err) {
			return NewStoreError("AppendConsent", "consent", rec.ID, "consent record with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("AppendConsent", "consent", rec.ID, err.Error(), err)
	}
	return nil
}

// listConsent returns consent records in ledger order. Empty filters match
// everything.
func listConsent(ctx context.Context, exec executor, userID, consentType string) ([]domain.ConsentRecord, error) {
	var where []string
	var args []any
	if userID != "" {
		where = append(where, "user_id = ?")
		args = append(args, userID)
	}
	if consentType != "" {
		where = append(where, "consent_type = ?")
		args = append(args, consentType)
	}

	query := `SELECT id, user_id, consent_type, action, recorded_at, prev_hash, hash FROM consent_records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq"

	var rows []consentRow
	if err := exec.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, NewStoreError("ListConsent", "consent", userID, err.Error(), err)
	}

	records := make([]domain.ConsentRecord, 0, len(rows))
	for _, row := range rows {
		recordedAt, err := parseTime(row.RecordedAt)
		if err != nil {
			return nil, NewStoreError("ListConsent", "consent", row.ID, "failed to parse recorded_at", ErrInvalidData)
		}
		records = append(records, domain.ConsentRecord{
			ID:          row.ID,
			UserID:      row.UserID,
			ConsentType: row.ConsentType,
			Action:      domain.ConsentAction(row.Action),
			RecordedAt:  recordedAt,
			PrevHash:    row.PrevHash,
			Hash:        row.Hash,
		})
	}
	return records, nil
}

type obligationRow struct {
	ID              string `db:"id"`
	UserID          string `db:"user_id"`
	ConsentType     string `db:"consent_type"`
	ConsentRecordID string `db:"consent_record_id"`
	CreatedAt       string `db:"created_at"`
}

func createDeletionObligation(ctx context.Context, exec executor, o *domain.DeletionObligation) error {
	query := `
		INSERT INTO deletion_obligations (id, user_id, consent_type, consent_record_id, created_at)
		VALUES (:id, :user_id, :consent_type, :consent_record_id, :created_at)`

	row := obligationRow{
		ID:              o.ID,
		UserID:          o.UserID,
		ConsentType:     o.ConsentType,
		ConsentRecordID: o.ConsentRecordID,
		CreatedAt:       formatTime(o.CreatedAt),
	}

	if _, err := exec.NamedExecContext(ctx, query, row); err != nil {
		if isForeignKeyViolation(err) {
			return NewStoreError("CreateDeletionObligation", "deletion_obligation", o.ID, "consent record not found", ErrForeignKey)
		}
		return NewStoreError("CreateDeletionObligation", "deletion_obligation", o.ID, err.Error(), err)
	}
	return nil
}

func listDeletionObligations(ctx context.Context, exec executor, userID string) ([]domain.DeletionObligation, error) {
	query := `SELECT id, user_id, consent_type, consent_record_id, created_at FROM deletion_obligations`
	var args []any
	if userID != "" {
		query += " WHERE user_id = ?"
		args = append(args, userID)
	}
	query += " ORDER BY created_at"

	var rows []obligationRow
	if err := exec.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, NewStoreError("ListDeletionObligations", "deletion_obligation", userID, err.Error(), err)
	}

	out := make([]domain.DeletionObligation, 0, len(rows))
	for _, row := range rows {
		createdAt, err := parseTime(row.CreatedAt)
		if err != nil {
			return nil, NewStoreError("ListDeletionObligations", "deletion_obligation", row.ID, "failed to parse created_at", ErrInvalidData)
		}
		out = append(out, domain.DeletionObligation{
			ID:              row.ID,
			UserID:          row.UserID,
			ConsentType:     row.ConsentType,
			ConsentRecordID: row.ConsentRecordID,
			CreatedAt:       createdAt,
		})
	}
	return out, nil
}
