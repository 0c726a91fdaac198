package simulation

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Simulation is the immutable parameter bundle for one unit of simulation
// work. It is created once by the generator and never modified afterwards;
// lifecycle state lives in the dispatch collections, keyed by the
// simulation's ID.
type Simulation struct {
	ID          string `bson:"_id" json:"id"`
	Topology    string `bson:"topology" json:"topology"`
	Destination int    `bson:"destination" json:"destination"`
	Repetitions int    `bson:"repetitions" json:"repetitions"`
	MinDelay    int    `bson:"min_delay" json:"min_delay"`
	MaxDelay    int    `bson:"max_delay" json:"max_delay"`
	Threshold   int    `bson:"threshold" json:"threshold"`
	StubsFile   string `bson:"stubs_file" json:"stubs_file"`

	// Seed is optional. A nil seed means a non-deterministic run: the
	// simulator draws its own entropy for every repetition.
	Seed *int64 `bson:"seed,omitempty" json:"seed,omitempty"`

	// ReportNodes is optional and treated as false when absent.
	ReportNodes *bool `bson:"reportnodes,omitempty" json:"reportnodes,omitempty"`
}

// New constructs a Simulation with a fresh random ID.
func New(topology string, destination, repetitions, minDelay, maxDelay, threshold int, stubsFile string, seed *int64, reportNodes *bool) Simulation {
	return Simulation{
		ID:          uuid.New().String(),
		Topology:    topology,
		Destination: destination,
		Repetitions: repetitions,
		MinDelay:    minDelay,
		MaxDelay:    maxDelay,
		Threshold:   threshold,
		StubsFile:   stubsFile,
		Seed:        seed,
		ReportNodes: reportNodes,
	}
}

// Validate checks the descriptor for values that could never describe a
// runnable simulation.
func (s *Simulation) Validate() error {
	if s.ID == "" {
		return errors.New("simulation must have an id")
	}
	if s.Topology == "" {
		return errors.New("simulation must reference a topology")
	}
	if s.Destination < 0 {
		return errors.Errorf("destination '%d' is not a valid node id", s.Destination)
	}
	if s.Repetitions <= 0 {
		return errors.Errorf("repetitions must be positive, got %d", s.Repetitions)
	}
	if s.MinDelay > s.MaxDelay {
		return errors.Errorf("min delay %d exceeds max delay %d", s.MinDelay, s.MaxDelay)
	}

	return nil
}

// ReportNodesEnabled resolves the optional report-nodes flag, treating an
// absent value as disabled.
func (s *Simulation) ReportNodesEnabled() bool {
	return s.ReportNodes != nil && *s.ReportNodes
}

// SameContent reports whether two descriptors are identical in every field,
// including the ID. Re-inserting identical content is tolerated; inserting
// different content under an existing ID is a collision.
func (s *Simulation) SameContent(other *Simulation) bool {
	if other == nil {
		return false
	}
	if s.ID != other.ID ||
		s.Topology != other.Topology ||
		s.Destination != other.Destination ||
		s.Repetitions != other.Repetitions ||
		s.MinDelay != other.MinDelay ||
		s.MaxDelay != other.MaxDelay ||
		s.Threshold != other.Threshold ||
		s.StubsFile != other.StubsFile {
		return false
	}
	if !equalInt64Ptr(s.Seed, other.Seed) {
		return false
	}
	return s.ReportNodesEnabled() == other.ReportNodesEnabled()
}

func (s *Simulation) String() string {
	return fmt.Sprintf("simulation %s (topology=%s destination=%d)", s.ID, s.Topology, s.Destination)
}

func equalInt64Ptr(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
