// Package routing provides the pure replica selection algorithm for the
// replicated data router. This package contains NO I/O.
package routing

import (
	"fmt"
	"time"
)

// Operation is a data operation kind.
type Operation string

const (
	OpRead  Operation = "read"
	OpWrite Operation = "write"
)

// Valid reports whether the operation is known.
func (o Operation) Valid() bool {
	return o == OpRead || o == OpWrite
}

// ConsistencyLevel is selected per operation by the caller.
type ConsistencyLevel string

const (
	Strong           ConsistencyLevel = "strong"
	Eventual         ConsistencyLevel = "eventual"
	Causal           ConsistencyLevel = "causal"
	BoundedStaleness ConsistencyLevel = "bounded-staleness"
)

// DefaultMaxStaleness bounds bounded-staleness and causal reads when the
// caller does not say otherwise.
const DefaultMaxStaleness = 5 * time.Second

// ParseLevel parses a consistency level name; empty means strong.
func ParseLevel(s string) (ConsistencyLevel, error) {
	switch ConsistencyLevel(s) {
	case "":
		return Strong, nil
	case Strong, Eventual, Causal, BoundedStaleness:
		return ConsistencyLevel(s), nil
	}
	return "", fmt.Errorf("unknown consistency level %q", s)
}

// ConsistencyModel is the full setting behind a level.
type ConsistencyModel struct {
	Level        ConsistencyLevel `json:"level"`
	MaxStaleness time.Duration    `json:"max_staleness"`
	ReadQuorum   int              `json:"read_quorum"`
	WriteQuorum  int              `json:"write_quorum"`
}

// ModelFor derives quorum sizes and the staleness bound for a level over n
// replicas (primary included). Strong uses majority quorums for both reads
// and writes so that every read quorum overlaps every write quorum.
func ModelFor(level ConsistencyLevel, n int, staleness time.Duration) ConsistencyModel {
	if n < 1 {
		n = 1
	}
	majority := n/2 + 1
	m := ConsistencyModel{Level: level}
	switch level {
	case Strong:
		m.ReadQuorum, m.WriteQuorum = majority, majority
	case Causal:
		m.ReadQuorum, m.WriteQuorum = 1, majority
		m.MaxStaleness = orDefault(staleness)
	case BoundedStaleness:
		m.ReadQuorum, m.WriteQuorum = 1, majority
		m.MaxStaleness = orDefault(staleness)
	default:
		m.ReadQuorum, m.WriteQuorum = 1, 1
	}
	return m
}

func orDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultMaxStaleness
	}
	return d
}
