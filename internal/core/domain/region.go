// Package domain contains the core domain types for geodeploy.
package domain

import "strings"

// =============================================================================
// Region
// =============================================================================

// Location is display metadata for a region.
type Location struct {
	Name      string `json:"name" yaml:"name"`
	Country   string `json:"country,omitempty" yaml:"country"`
	Continent string `json:"continent,omitempty" yaml:"continent"`
}

// Capacity bounds the number of instances a region may run.
type Capacity struct {
	MinInstances int `json:"min_instances" yaml:"min_instances"`
	MaxInstances int `json:"max_instances" yaml:"max_instances"`
}

// Valid reports whether the bounds are consistent.
func (c Capacity) Valid() bool {
	return c.MinInstances >= 0 && c.MaxInstances > 0 && c.MinInstances <= c.MaxInstances
}

// Endpoints are the network endpoints of a region.
type Endpoints struct {
	API   string `json:"api" yaml:"api"`
	Data  string `json:"data" yaml:"data"`
	Admin string `json:"admin" yaml:"admin"`
}

// Region is an independently deployable geographic target. Everything except
// Capacity is immutable after registration.
type Region struct {
	ID             string          `json:"id" yaml:"id"`
	Location       Location        `json:"location" yaml:"location"`
	ComplianceTags []string        `json:"compliance_tags" yaml:"compliance_tags"`
	Controls       []string        `json:"controls,omitempty" yaml:"controls"`
	Encryption     EncryptionLevel `json:"encryption" yaml:"encryption"`
	Capacity       Capacity        `json:"capacity" yaml:"capacity"`
	Endpoints      Endpoints       `json:"endpoints" yaml:"endpoints"`
}

// Satisfies reports whether the region carries the given regulation tag.
func (r Region) Satisfies(regulation string) bool {
	for _, tag := range r.ComplianceTags {
		if strings.EqualFold(tag, regulation) {
			return true
		}
	}
	return false
}

// HasControl reports whether the region implements a security control
// such as "access-control" or "audit".
func (r Region) HasControl(control string) bool {
	for _, c := range r.Controls {
		if strings.EqualFold(c, control) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers cannot mutate registry state.
func (r Region) Clone() Region {
	out := r
	out.ComplianceTags = append([]string(nil), r.ComplianceTags...)
	out.Controls = append([]string(nil), r.Controls...)
	return out
}
