// Package generator produces validated simulation descriptors from topology
// and destination files and hands them to the dispatch queue.
package generator

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/evergreen-ci/utility"
	"github.com/pkg/errors"
	"github.com/ssbgp/dss/model/simulation"
)

// Topology names a network topology and the stub file that accompanies it.
type Topology struct {
	Name      string
	StubsFile string
}

// Parameters are the simulation settings shared by every generated
// descriptor.
type Parameters struct {
	Repetitions int
	MinDelay    int
	MaxDelay    int
	Threshold   int
	Seed        *int64
	ReportNodes bool
}

// Validate checks the shared parameters before any descriptor is built.
func (p Parameters) Validate() error {
	if p.Repetitions <= 0 {
		return errors.Errorf("repetitions must be positive, got %d", p.Repetitions)
	}
	if p.MinDelay > p.MaxDelay {
		return errors.Errorf("min delay %d exceeds max delay %d", p.MinDelay, p.MaxDelay)
	}
	return nil
}

// ReadTopologies reads a topologies file with one "name|stubsfile" entry per
// line and verifies that every referenced file exists on disk.
func ReadTopologies(path string) ([]Topology, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening topologies file '%s'", path)
	}
	defer file.Close()

	topologies := []Topology{}
	scanner := bufio.NewScanner(file)
	for lineNum := 1; scanner.Scan(); lineNum++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Split(line, "|")
		if len(fields) != 2 {
			return nil, errors.Errorf("malformed topology entry on line %d of '%s'", lineNum, path)
		}

		topology := Topology{
			Name:      strings.TrimSpace(fields[0]),
			StubsFile: strings.TrimSpace(fields[1]),
		}
		if !utility.FileExists(topology.Name) {
			return nil, errors.Errorf("topology file '%s' does not exist", topology.Name)
		}
		if !utility.FileExists(topology.StubsFile) {
			return nil, errors.Errorf("stubs file '%s' does not exist", topology.StubsFile)
		}

		topologies = append(topologies, topology)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading topologies file '%s'", path)
	}

	return topologies, nil
}

// ReadDestinations reads a destinations file with one node id per line.
func ReadDestinations(path string) ([]int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening destinations file '%s'", path)
	}
	defer file.Close()

	destinations := []int{}
	scanner := bufio.NewScanner(file)
	for lineNum := 1; scanner.Scan(); lineNum++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		destination, err := strconv.Atoi(line)
		if err != nil || destination < 0 {
			return nil, errors.Errorf("invalid destination '%s' on line %d of '%s'", line, lineNum, path)
		}

		destinations = append(destinations, destination)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading destinations file '%s'", path)
	}

	return destinations, nil
}

// Generate builds one simulation per (topology, destination) pair, each with
// a fresh random ID and the shared parameters.
func Generate(topologies []Topology, destinations []int, params Parameters) ([]simulation.Simulation, error) {
	if err := params.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid generation parameters")
	}

	var reportNodes *bool
	if params.ReportNodes {
		reportNodes = utility.ToBoolPtr(true)
	}

	sims := make([]simulation.Simulation, 0, len(topologies)*len(destinations))
	for _, topology := range topologies {
		for _, destination := range destinations {
			sims = append(sims, simulation.New(
				topology.Name,
				destination,
				params.Repetitions,
				params.MinDelay,
				params.MaxDelay,
				params.Threshold,
				topology.StubsFile,
				params.Seed,
				reportNodes,
			))
		}
	}

	return sims, nil
}
