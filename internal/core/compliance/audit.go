package compliance

import (
	"fmt"

	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/domain"
)

// Score penalties per failed requirement.
const (
	MandatoryPenalty = 20
	OptionalPenalty  = 5
)

// Classification boundaries.
const (
	CompliantScore = 90
	WarningScore   = 70
)

// AuditInput is everything a requirement check may look at.
type AuditInput struct {
	Region          domain.Region
	Rule            domain.ComplianceRule
	Classifications map[string]domain.DataClassification
	ConsentLedger   bool // a consent ledger is being kept
}

// Evaluate runs one check per requirement of the rule.
func Evaluate(in AuditInput) []domain.AuditFinding {
	findings := make([]domain.AuditFinding, 0, len(in.Rule.Requirements))
	for _, req := range in.Rule.Requirements {
		passed, detail := check(in, req)
		findings = append(findings, domain.AuditFinding{
			Requirement: req.Type,
			Mandatory:   req.Mandatory,
			Passed:      passed,
			Detail:      detail,
		})
	}
	return findings
}

// Score starts at 100 and subtracts a penalty per failed finding, clamped to
// [0, 100].
func Score(findings []domain.AuditFinding) int {
	score := 100
	for _, f := range findings {
		if f.Passed {
			continue
		}
		if f.Mandatory {
			score -= MandatoryPenalty
		} else {
			score -= OptionalPenalty
		}
	}
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// Classify maps a score to an audit status.
func Classify(score int) domain.AuditStatus {
	switch {
	case score >= CompliantScore:
		return domain.AuditCompliant
	case score >= WarningScore:
		return domain.AuditWarning
	default:
		return domain.AuditNonCompliant
	}
}

func check(in AuditInput, req domain.ComplianceRequirement) (bool, string) {
	switch req.Type {
	case domain.RequirementDataLocation:
		return checkLocation(in)
	case domain.RequirementEncryption:
		return checkEncryption(in)
	case domain.RequirementRetention:
		return checkRetention(in)
	case domain.RequirementConsent:
		if in.ConsentLedger {
			return true, "consent ledger is recorded"
		}
		return false, "no consent ledger configured"
	case domain.RequirementAccessControl, domain.RequirementAudit:
		if in.Region.HasControl(string(req.Type)) {
			return true, fmt.Sprintf("%s control present", req.Type)
		}
		return false, fmt.Sprintf("region %s lacks %s control", in.Region.ID, req.Type)
	default:
		return false, fmt.Sprintf("no check available for requirement %q", req.Type)
	}
}

func checkLocation(in AuditInput) (bool, string) {
	if len(in.Rule.Regions) > 0 {
		if in.Rule.Permits(in.Region.ID) {
			return true, "region is listed by the regulation"
		}
		return false, fmt.Sprintf("region %s is not listed for %s", in.Region.ID, in.Rule.Regulation)
	}
	if in.Region.Satisfies(in.Rule.Regulation) {
		return true, fmt.Sprintf("region carries %s tag", in.Rule.Regulation)
	}
	return false, fmt.Sprintf("region %s does not carry %s tag", in.Region.ID, in.Rule.Regulation)
}

func checkEncryption(in AuditInput) (bool, string) {
	required := domain.EncryptionNone
	for _, dt := range in.Rule.DataTypes {
		class, ok := in.Classifications[dt]
		if ok && class.RequiredEncryption.Rank() > required.Rank() {
			required = class.RequiredEncryption
		}
	}
	if in.Region.Encryption.Rank() >= required.Rank() {
		return true, fmt.Sprintf("encryption %s meets %s", levelName(in.Region.Encryption), required)
	}
	return false, fmt.Sprintf("encryption %s below required %s", levelName(in.Region.Encryption), required)
}

func checkRetention(in AuditInput) (bool, string) {
	if len(in.Rule.DataTypes) == 0 {
		return false, "rule names no data types"
	}
	for _, dt := range in.Rule.DataTypes {
		class, ok := in.Classifications[dt]
		if !ok || class.RetentionDays <= 0 {
			return false, fmt.Sprintf("no retention period defined for %s", dt)
		}
	}
	return true, "retention periods defined"
}

func levelName(l domain.EncryptionLevel) string {
	if l == "" {
		return string(domain.EncryptionNone)
	}
	return string(l)
}
