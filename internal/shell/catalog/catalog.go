// Package catalog loads the static region, compliance, alerting and
// replication tables from YAML.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/compliance"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/domain"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/routing"
)

//go:embed default.yaml
var defaultCatalog []byte

// ReplicaConfig describes one secondary of the replicated data store.
type ReplicaConfig struct {
	Region string        `yaml:"region" json:"region"`
	Sync   bool          `yaml:"sync" json:"sync"`
	MaxLag time.Duration `yaml:"max_lag" json:"max_lag"`
}

// Topology is the replica layout of the data store.
type Topology struct {
	Primary  string          `yaml:"primary" json:"primary"`
	Replicas []ReplicaConfig `yaml:"replicas" json:"replicas"`
}

// Catalog is the parsed catalog file.
type Catalog struct {
	Regions         []domain.Region             `yaml:"regions"`
	Rules           []domain.ComplianceRule     `yaml:"rules"`
	Classifications []domain.DataClassification `yaml:"classifications"`
	Proximity       routing.Proximity           `yaml:"proximity"`
	AlertRules      []domain.AlertRule          `yaml:"alert_rules"`
	Topology        Topology                    `yaml:"topology"`
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads a catalog file. An empty path loads the embedded default.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks that every reference points at a declared region and that
// alert rules are well formed.
func (c *Catalog) Validate() error {
	known := make(map[string]bool, len(c.Regions))
	for _, r := range c.Regions {
		if r.ID == "" {
			return fmt.Errorf("catalog: region without id")
		}
		if known[r.ID] {
			return fmt.Errorf("catalog: duplicate region %s", r.ID)
		}
		if r.Encryption.Rank() < 0 {
			return fmt.Errorf("catalog: region %s: unknown encryption level %q", r.ID, r.Encryption)
		}
		known[r.ID] = true
	}

	ref := func(where, id string) error {
		if !known[id] {
			return fmt.Errorf("catalog: %s references unknown region %s", where, id)
		}
		return nil
	}

	for _, rule := range c.Rules {
		if rule.Regulation == "" {
			return fmt.Errorf("catalog: rule without regulation")
		}
		for _, id := range rule.Regions {
			if err := ref("rule "+rule.Regulation, id); err != nil {
				return err
			}
		}
	}

	for _, class := range c.Classifications {
		if class.DataType == "" {
			return fmt.Errorf("catalog: classification without data_type")
		}
		if class.RequiredEncryption.Rank() < 0 {
			return fmt.Errorf("catalog: classification %s: unknown encryption level %q", class.DataType, class.RequiredEncryption)
		}
		for _, id := range append(append([]string(nil), class.Restriction.Allowed...), class.Restriction.Blocked...) {
			if err := ref("classification "+class.DataType, id); err != nil {
				return err
			}
		}
	}

	for from, row := range c.Proximity {
		if err := ref("proximity", from); err != nil {
			return err
		}
		for to := range row {
			if err := ref("proximity", to); err != nil {
				return err
			}
		}
	}

	for _, rule := range c.AlertRules {
		if rule.Name == "" {
			return fmt.Errorf("catalog: alert rule without name")
		}
		if rule.Operator != domain.OperatorAbove && rule.Operator != domain.OperatorBelow {
			return fmt.Errorf("catalog: alert rule %s: unknown operator %q", rule.Name, rule.Operator)
		}
		if rule.Duration < 0 {
			return fmt.Errorf("catalog: alert rule %s: negative duration", rule.Name)
		}
		for _, id := range rule.Regions {
			if err := ref("alert rule "+rule.Name, id); err != nil {
				return err
			}
		}
	}

	if c.Topology.Primary != "" {
		if err := ref("topology", c.Topology.Primary); err != nil {
			return err
		}
	}
	for _, rep := range c.Topology.Replicas {
		if err := ref("topology", rep.Region); err != nil {
			return err
		}
	}
	return nil
}

// Tables builds the compliance rule tables.
func (c *Catalog) Tables() compliance.Tables {
	t := compliance.Tables{
		Regions:         make(map[string]domain.Region, len(c.Regions)),
		Rules:           append([]domain.ComplianceRule(nil), c.Rules...),
		Classifications: make(map[string]domain.DataClassification, len(c.Classifications)),
	}
	for _, r := range c.Regions {
		t.Regions[r.ID] = r.Clone()
	}
	for _, class := range c.Classifications {
		t.Classifications[class.DataType] = class
	}
	return t
}

// Rule returns the first rule for the named regulation.
func (c *Catalog) Rule(regulation string) (domain.ComplianceRule, bool) {
	for _, r := range c.Rules {
		if strings.EqualFold(r.Regulation, regulation) {
			return r, true
		}
	}
	return domain.ComplianceRule{}, false
}
