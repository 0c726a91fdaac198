package generator

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func writeTopologyFiles(t *testing.T, dir string, names ...string) string {
	t.Helper()
	lines := ""
	for _, name := range names {
		topology := writeFile(t, dir, name+".nf", "")
		stubs := writeFile(t, dir, name+".stubs", "")
		lines += fmt.Sprintf("%s|%s\n", topology, stubs)
	}
	return writeFile(t, dir, "topologies.txt", lines)
}

func TestReadTopologies(t *testing.T) {
	dir := t.TempDir()
	path := writeTopologyFiles(t, dir, "topo-a", "topo-b")

	topologies, err := ReadTopologies(path)
	require.NoError(t, err)
	require.Len(t, topologies, 2)
	assert.Equal(t, filepath.Join(dir, "topo-a.nf"), topologies[0].Name)
	assert.Equal(t, filepath.Join(dir, "topo-a.stubs"), topologies[0].StubsFile)
}

func TestReadTopologiesMalformedLine(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "topologies.txt", "only-one-field\n")

	_, err := ReadTopologies(path)
	assert.Error(t, err)
}

func TestReadTopologiesMissingFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "topologies.txt", filepath.Join(dir, "absent.nf")+"|"+filepath.Join(dir, "absent.stubs")+"\n")

	_, err := ReadTopologies(path)
	assert.Error(t, err)
}

func TestReadDestinations(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "destinations.txt", "0\n17\n\n42\n")

	destinations, err := ReadDestinations(path)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 17, 42}, destinations)
}

func TestReadDestinationsRejectsInvalidIds(t *testing.T) {
	dir := t.TempDir()

	for name, content := range map[string]string{
		"NotANumber": "abc\n",
		"Negative":   "-1\n",
	} {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, dir, name+".txt", content)
			_, err := ReadDestinations(path)
			assert.Error(t, err)
		})
	}
}

func TestGenerateBuildsCrossProduct(t *testing.T) {
	topologies := []Topology{
		{Name: "topo-a", StubsFile: "topo-a.stubs"},
		{Name: "topo-b", StubsFile: "topo-b.stubs"},
	}
	destinations := []int{0, 1, 2}
	params := Parameters{
		Repetitions: 100,
		MinDelay:    10,
		MaxDelay:    1000,
		Threshold:   2000000,
		ReportNodes: true,
	}

	sims, err := Generate(topologies, destinations, params)
	require.NoError(t, err)
	require.Len(t, sims, len(topologies)*len(destinations))

	seen := map[string]bool{}
	for _, sim := range sims {
		assert.NoError(t, sim.Validate())
		assert.False(t, seen[sim.ID], "duplicate id %s", sim.ID)
		seen[sim.ID] = true

		assert.Equal(t, 100, sim.Repetitions)
		assert.Equal(t, 10, sim.MinDelay)
		assert.Equal(t, 1000, sim.MaxDelay)
		assert.Equal(t, 2000000, sim.Threshold)
		assert.True(t, sim.ReportNodesEnabled())
		assert.Nil(t, sim.Seed)
	}

	// Each topology carries its own stubs file.
	assert.Equal(t, "topo-a.stubs", sims[0].StubsFile)
	assert.Equal(t, "topo-b.stubs", sims[len(destinations)].StubsFile)
}

func TestGenerateSharedSeed(t *testing.T) {
	seed := int64(42)
	sims, err := Generate(
		[]Topology{{Name: "topo-a", StubsFile: "topo-a.stubs"}},
		[]int{0, 1},
		Parameters{Repetitions: 1, MinDelay: 0, MaxDelay: 0, Threshold: 1, Seed: &seed},
	)
	require.NoError(t, err)
	require.Len(t, sims, 2)
	for _, sim := range sims {
		require.NotNil(t, sim.Seed)
		assert.Equal(t, seed, *sim.Seed)
	}
}

func TestGenerateRejectsInvalidParameters(t *testing.T) {
	topologies := []Topology{{Name: "topo-a", StubsFile: "topo-a.stubs"}}

	_, err := Generate(topologies, []int{0}, Parameters{Repetitions: 0, MinDelay: 10, MaxDelay: 1000})
	assert.Error(t, err)

	_, err = Generate(topologies, []int{0}, Parameters{Repetitions: 1, MinDelay: 1000, MaxDelay: 10})
	assert.Error(t, err)
}
