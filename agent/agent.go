// Package agent implements the simulator runtime: a worker process that
// registers with the store, claims queued simulations, executes them as an
// opaque external step, and reports completion or failure. Workers hold no
// shared memory and coordinate exclusively through store transitions.
package agent

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"github.com/ssbgp/dss"
	"github.com/ssbgp/dss/model/dispatch"
	"github.com/ssbgp/dss/model/simulator"
)

const (
	defaultPollInterval = 10 * time.Second
	defaultMaxSleep     = 5 * time.Minute
)

// Options contains startup options for the Agent.
type Options struct {
	// SimulatorID identifies this worker in the store. A random one is
	// generated when empty.
	SimulatorID string

	// PollInterval is the base delay between claim attempts against an
	// empty queue; the actual sleep backs off exponentially up to
	// MaxSleep and resets whenever work is found.
	PollInterval time.Duration
	MaxSleep     time.Duration

	// RequeuePriority is the priority assigned when a failed run is
	// returned to the queue.
	RequeuePriority int
}

// Agent claims simulations and runs them. Call Start to begin the
// claim/run/report loop.
type Agent struct {
	opts   Options
	runner Runner
}

// New creates an Agent running simulations with the given Runner.
func New(opts Options, runner Runner) (*Agent, error) {
	if runner == nil {
		return nil, errors.New("agent requires a runner")
	}
	if opts.SimulatorID == "" {
		opts.SimulatorID = uuid.New().String()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.MaxSleep <= 0 {
		opts.MaxSleep = defaultMaxSleep
	}
	if opts.RequeuePriority == 0 {
		opts.RequeuePriority = dss.DefaultPriority + dss.RequeuePriorityBoost
	}

	return &Agent{opts: opts, runner: runner}, nil
}

// SimulatorID returns the identity this agent registers and claims under.
func (a *Agent) SimulatorID() string { return a.opts.SimulatorID }

// Start registers the simulator and runs the claim loop until the context
// is canceled. A claimed simulation is this agent's responsibility until it
// reports completion or failure, so cancellation is only honored between
// runs.
func (a *Agent) Start(ctx context.Context) error {
	if err := simulator.Register(ctx, a.opts.SimulatorID); err != nil {
		return errors.Wrap(err, "registering simulator")
	}

	grip.Info(message.Fields{
		"message":   "simulator agent started",
		"simulator": a.opts.SimulatorID,
	})

	return a.loop(ctx)
}

func (a *Agent) loop(ctx context.Context) error {
	sleep := &backoff.Backoff{
		Min:    a.opts.PollInterval,
		Max:    a.opts.MaxSleep,
		Factor: 2,
		Jitter: true,
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			grip.Info(message.Fields{
				"message":   "agent loop canceled",
				"simulator": a.opts.SimulatorID,
			})
			return nil
		case <-timer.C:
			ranWork, err := a.RunOnce(ctx)
			if err != nil {
				grip.Error(message.WrapError(err, message.Fields{
					"message":   "claim attempt failed",
					"simulator": a.opts.SimulatorID,
				}))
				timer.Reset(sleep.Duration())
				continue
			}
			if ranWork {
				sleep.Reset()
				timer.Reset(0)
				continue
			}
			d := sleep.Duration()
			grip.Debugf("queue empty, sleeping %s", d)
			timer.Reset(d)
		}
	}
}

// RunOnce claims at most one simulation, runs it, and records the outcome.
// It reports whether any work was claimed. A failed run is requeued with
// the configured requeue priority; the error from the run itself is logged,
// not returned, since the failure is already recorded in the store.
func (a *Agent) RunOnce(ctx context.Context) (bool, error) {
	sim, err := dispatch.ClaimNext(ctx, a.opts.SimulatorID)
	if err != nil {
		return false, errors.Wrap(err, "claiming next simulation")
	}
	if sim == nil {
		return false, nil
	}

	grip.Info(message.Fields{
		"message":     "claimed simulation",
		"simulator":   a.opts.SimulatorID,
		"simulation":  sim.ID,
		"topology":    sim.Topology,
		"destination": sim.Destination,
	})

	if runErr := a.runner.Run(ctx, sim); runErr != nil {
		grip.Error(message.WrapError(runErr, message.Fields{
			"message":    "simulation run failed, requeueing",
			"simulator":  a.opts.SimulatorID,
			"simulation": sim.ID,
		}))
		if err := dispatch.Requeue(ctx, a.opts.SimulatorID, sim.ID, a.opts.RequeuePriority); err != nil {
			return true, errors.Wrapf(err, "requeueing failed simulation '%s'", sim.ID)
		}
		return true, nil
	}

	if err := dispatch.Complete(ctx, a.opts.SimulatorID, sim.ID, time.Now()); err != nil {
		return true, errors.Wrapf(err, "recording completion of simulation '%s'", sim.ID)
	}

	grip.Info(message.Fields{
		"message":    "completed simulation",
		"simulator":  a.opts.SimulatorID,
		"simulation": sim.ID,
	})

	return true, nil
}
