package domain

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Encryption Levels
// =============================================================================

// EncryptionLevel is an ordinal encryption strength.
type EncryptionLevel string

const (
	EncryptionNone     EncryptionLevel = "none"
	EncryptionBasic    EncryptionLevel = "basic"
	EncryptionStandard EncryptionLevel = "standard"
	EncryptionHigh     EncryptionLevel = "high"
	EncryptionMaximum  EncryptionLevel = "maximum"
)

var encryptionRank = map[EncryptionLevel]int{
	EncryptionNone:     0,
	EncryptionBasic:    1,
	EncryptionStandard: 2,
	EncryptionHigh:     3,
	EncryptionMaximum:  4,
}

// Rank returns the ordinal strength of the level, or -1 if unknown.
// The empty level ranks as none.
func (l EncryptionLevel) Rank() int {
	if l == "" {
		return 0
	}
	if r, ok := encryptionRank[l]; ok {
		return r
	}
	return -1
}

// =============================================================================
// Rules and Classifications
// =============================================================================

// RequirementType identifies what a compliance requirement checks.
type RequirementType string

const (
	RequirementDataLocation  RequirementType = "data-location"
	RequirementEncryption    RequirementType = "encryption"
	RequirementRetention     RequirementType = "retention"
	RequirementConsent       RequirementType = "consent"
	RequirementAccessControl RequirementType = "access-control"
	RequirementAudit         RequirementType = "audit"
)

// ComplianceRequirement is one condition imposed by a regulation.
type ComplianceRequirement struct {
	Type           RequirementType `json:"type" yaml:"type"`
	Mandatory      bool            `json:"mandatory" yaml:"mandatory"`
	Implementation string          `json:"implementation,omitempty" yaml:"implementation"`
	Validation     string          `json:"validation,omitempty" yaml:"validation"`
}

// Penalty is informational only.
type Penalty struct {
	MaxFine     string `json:"max_fine,omitempty" yaml:"max_fine"`
	Description string `json:"description,omitempty" yaml:"description"`
}

// ComplianceRule describes a regulation and where its data types may live.
type ComplianceRule struct {
	Regulation   string                  `json:"regulation" yaml:"regulation"`
	Regions      []string                `json:"regions" yaml:"regions"`
	DataTypes    []string                `json:"data_types" yaml:"data_types"`
	Requirements []ComplianceRequirement `json:"requirements" yaml:"requirements"`
	Penalty      Penalty                 `json:"penalty" yaml:"penalty"`
}

// AppliesTo reports whether the rule covers the data type.
func (r ComplianceRule) AppliesTo(dataType string) bool {
	return containsString(r.DataTypes, dataType)
}

// Permits reports whether the rule allows data in the region.
// A rule with no region list permits every region.
func (r ComplianceRule) Permits(regionID string) bool {
	return len(r.Regions) == 0 || containsString(r.Regions, regionID)
}

// Sensitivity is the sensitivity tier of a data type.
type Sensitivity string

const (
	SensitivityPublic       Sensitivity = "public"
	SensitivityInternal     Sensitivity = "internal"
	SensitivityConfidential Sensitivity = "confidential"
	SensitivityRestricted   Sensitivity = "restricted"
)

// RegionRestriction limits where a data type may be stored. An empty Allowed
// list means "anywhere not blocked".
type RegionRestriction struct {
	Allowed []string `json:"allowed,omitempty" yaml:"allowed"`
	Blocked []string `json:"blocked,omitempty" yaml:"blocked"`
}

// DataClassification gates storage routing and deployment for a data type.
type DataClassification struct {
	DataType           string            `json:"data_type" yaml:"data_type"`
	Sensitivity        Sensitivity       `json:"sensitivity" yaml:"sensitivity"`
	Restriction        RegionRestriction `json:"restriction" yaml:"restriction"`
	RetentionDays      int               `json:"retention_days" yaml:"retention_days"`
	RequiredEncryption EncryptionLevel   `json:"required_encryption" yaml:"required_encryption"`
}

// =============================================================================
// Validation Results
// =============================================================================

// LocationResult is the outcome of a data location check.
type LocationResult struct {
	Compliant  bool     `json:"compliant"`
	Violations []string `json:"violations"`
}

// EncryptionResult is the outcome of an encryption check.
type EncryptionResult struct {
	Compliant     bool            `json:"compliant"`
	RequiredLevel EncryptionLevel `json:"required_level"`
}

// =============================================================================
// Audits
// =============================================================================

// AuditStatus classifies an audit score.
type AuditStatus string

const (
	AuditCompliant    AuditStatus = "compliant"
	AuditWarning      AuditStatus = "warning"
	AuditNonCompliant AuditStatus = "non-compliant"
)

// AuditFinding records the outcome of one requirement check.
type AuditFinding struct {
	Requirement RequirementType `json:"requirement"`
	Mandatory   bool            `json:"mandatory"`
	Passed      bool            `json:"passed"`
	Detail      string          `json:"detail"`
}

// ComplianceAudit is an immutable audit result.
type ComplianceAudit struct {
	ID         string         `json:"id"`
	Region     string         `json:"region"`
	Regulation string         `json:"regulation"`
	Score      int            `json:"score"`
	Status     AuditStatus    `json:"status"`
	Findings   []AuditFinding `json:"findings"`
	AuditedAt  time.Time      `json:"audited_at"`
	PrevHash   string         `json:"prev_hash,omitempty"`
	Hash       string         `json:"hash,omitempty"`
}

// =============================================================================
// Consent
// =============================================================================

// ConsentAction is a consent management action.
type ConsentAction string

const (
	ConsentGrant    ConsentAction = "grant"
	ConsentWithdraw ConsentAction = "withdraw"
	ConsentQuery    ConsentAction = "query"
)

// Valid reports whether the action is known.
func (a ConsentAction) Valid() bool {
	switch a {
	case ConsentGrant, ConsentWithdraw, ConsentQuery:
		return true
	}
	return false
}

// ConsentRecord is an append-only consent ledger entry.
type ConsentRecord struct {
	ID          string        `json:"id"`
	UserID      string        `json:"user_id"`
	ConsentType string        `json:"consent_type"`
	Action      ConsentAction `json:"action"`
	RecordedAt  time.Time     `json:"recorded_at"`
	PrevHash    string        `json:"prev_hash"`
	Hash        string        `json:"hash"`
}

// ConsentStatus is the current consent state for a user and consent type.
type ConsentStatus struct {
	UserID      string     `json:"user_id"`
	ConsentType string     `json:"consent_type"`
	Granted     bool       `json:"granted"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
	RecordID    string     `json:"record_id,omitempty"`
}

// DeletionObligation is raised when consent is withdrawn. It is exposed as an
// event; deletion itself happens downstream.
type DeletionObligation struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	ConsentType     string    `json:"consent_type"`
	ConsentRecordID string    `json:"consent_record_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// NewDeletionObligation creates an obligation for a withdrawal record.
func NewDeletionObligation(rec ConsentRecord) DeletionObligation {
	return DeletionObligation{
		ID:              uuid.New().String(),
		UserID:          rec.UserID,
		ConsentType:     rec.ConsentType,
		ConsentRecordID: rec.ID,
		CreatedAt:       rec.RecordedAt,
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
