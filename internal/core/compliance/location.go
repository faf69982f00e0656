// Package compliance provides pure functions for regulatory checks: where a
// data type may live, what encryption it needs, and how a region scores
// against a regulation's requirements. This package contains NO I/O.
package compliance

import (
	"fmt"
	"strings"

	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/domain"
)

// Tables is the read-only rule set checks are evaluated against.
type Tables struct {
	Regions         map[string]domain.Region
	Rules           []domain.ComplianceRule
	Classifications map[string]domain.DataClassification
}

// RulesFor returns every rule for the named regulation.
func (t Tables) RulesFor(regulation string) []domain.ComplianceRule {
	var out []domain.ComplianceRule
	for _, r := range t.Rules {
		if strings.EqualFold(r.Regulation, regulation) {
			out = append(out, r)
		}
	}
	return out
}

// =============================================================================
// Data Location
// =============================================================================

// ValidateDataLocation reports whether dataType may be stored or processed in
// the region. It is deterministic and never modifies the tables.
func (t Tables) ValidateDataLocation(dataType, regionID string) domain.LocationResult {
	violations := []string{}

	region, known := t.Regions[regionID]
	if !known {
		violations = append(violations, fmt.Sprintf("unknown region %s", regionID))
	}

	if class, ok := t.Classifications[dataType]; ok {
		if contains(class.Restriction.Blocked, regionID) {
			violations = append(violations,
				fmt.Sprintf("%s data is blocked in region %s", dataType, regionID))
		} else if len(class.Restriction.Allowed) > 0 && !contains(class.Restriction.Allowed, regionID) {
			violations = append(violations,
				fmt.Sprintf("%s data is restricted to regions %s", dataType, strings.Join(class.Restriction.Allowed, ", ")))
		}
	}

	for _, rule := range t.Rules {
		if !rule.AppliesTo(dataType) {
			continue
		}
		if len(rule.Regions) > 0 {
			if !rule.Permits(regionID) {
				violations = append(violations, fmt.Sprintf("%s violation: %s data may only reside in %s",
					rule.Regulation, dataType, strings.Join(rule.Regions, ", ")))
			}
			continue
		}
		if known && !region.Satisfies(rule.Regulation) {
			violations = append(violations, fmt.Sprintf("%s violation: region %s is not certified for %s data",
				rule.Regulation, regionID, dataType))
		}
	}

	return domain.LocationResult{
		Compliant:  len(violations) == 0,
		Violations: violations,
	}
}

// CheckDeployment validates every data type against the region and returns a
// *domain.ComplianceViolationError for the first data type that is not
// permitted, or nil.
func (t Tables) CheckDeployment(regionID string, dataTypes []string) error {
	for _, dt := range dataTypes {
		res := t.ValidateDataLocation(dt, regionID)
		if !res.Compliant {
			return &domain.ComplianceViolationError{
				Region:     regionID,
				DataType:   dt,
				Violations: res.Violations,
			}
		}
	}
	return nil
}

// =============================================================================
// Encryption
// =============================================================================

// ValidateEncryption compares the supplied level against the level required
// for the data type. Unclassified data types require no encryption; unknown
// levels never comply.
func (t Tables) ValidateEncryption(dataType string, level domain.EncryptionLevel) domain.EncryptionResult {
	required := domain.EncryptionNone
	if class, ok := t.Classifications[dataType]; ok && class.RequiredEncryption != "" {
		required = class.RequiredEncryption
	}
	rank := level.Rank()
	return domain.EncryptionResult{
		Compliant:     rank >= 0 && rank >= required.Rank(),
		RequiredLevel: required,
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
