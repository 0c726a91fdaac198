package agent

import (
	"context"
	"strconv"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/level"
	"github.com/mongodb/jasper"
	"github.com/pkg/errors"
	"github.com/ssbgp/dss/model/simulation"
)

// Runner executes one simulation. The simulation algorithm itself is an
// opaque external step between claim and report; implementations only
// translate the descriptor into an invocation.
type Runner interface {
	Run(context.Context, *simulation.Simulation) error
}

// ExecRunner runs simulations by invoking the SS-BGP simulator binary as a
// child process through a jasper manager.
type ExecRunner struct {
	// Binary is the path to the simulator executable.
	Binary string

	// WorkingDir is where the simulator process runs and writes reports.
	WorkingDir string

	manager jasper.Manager
}

// NewExecRunner returns a Runner invoking the given simulator binary.
func NewExecRunner(binary, workingDir string) (*ExecRunner, error) {
	if binary == "" {
		return nil, errors.New("exec runner requires a simulator binary")
	}
	manager, err := jasper.NewSynchronizedManager(false)
	if err != nil {
		return nil, errors.Wrap(err, "creating process manager")
	}
	return &ExecRunner{Binary: binary, WorkingDir: workingDir, manager: manager}, nil
}

// simulationArgs translates a descriptor into the simulator's command line.
func simulationArgs(sim *simulation.Simulation) []string {
	args := []string{
		"--topology", sim.Topology,
		"--destination", strconv.Itoa(sim.Destination),
		"--c", strconv.Itoa(sim.Repetitions),
		"--min", strconv.Itoa(sim.MinDelay),
		"--max", strconv.Itoa(sim.MaxDelay),
		"--th", strconv.Itoa(sim.Threshold),
		"--stubs", sim.StubsFile,
	}
	// A nil seed means a non-deterministic run: no flag is passed and the
	// simulator draws its own entropy per repetition.
	if sim.Seed != nil {
		args = append(args, "--seed", strconv.FormatInt(*sim.Seed, 10))
	}
	if sim.ReportNodesEnabled() {
		args = append(args, "--reportnodes")
	}
	return args
}

func (r *ExecRunner) Run(ctx context.Context, sim *simulation.Simulation) error {
	err := r.manager.CreateCommand(ctx).
		Add(append([]string{r.Binary}, simulationArgs(sim)...)).
		Directory(r.WorkingDir).
		SetOutputSender(level.Info, grip.GetSender()).
		SetErrorSender(level.Error, grip.GetSender()).
		Run(ctx)
	return errors.Wrapf(err, "running %s", sim)
}

var _ Runner = (*ExecRunner)(nil)
