package operations

import (
	"context"
	"fmt"

	"github.com/mongodb/grip"
	"github.com/pkg/errors"
	"github.com/ssbgp/dss"
	"github.com/ssbgp/dss/model/dispatch"
	"github.com/ssbgp/dss/model/simulator"
	"github.com/urfave/cli"
)

// Status returns the command that prints per-state counts and the queue in
// claim order.
func Status() cli.Command {
	return cli.Command{
		Name:   "status",
		Usage:  "show lifecycle state counts and the queue in claim order",
		Flags:  serviceConfigFlags(),
		Before: setPlainLogger,
		Action: func(c *cli.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			env, err := setupEnvironment(ctx, c)
			if err != nil {
				return err
			}
			defer func() { grip.Error(env.Close(ctx)) }()

			counts, err := dispatch.StateCounts(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("simulations: %d\nqueued: %d\nrunning: %d\ncomplete: %d\n",
				counts.Simulations, counts.Queued, counts.Running, counts.Complete)

			tiers, err := dispatch.QueuePriorityCounts(ctx)
			if err != nil {
				return err
			}
			for _, tier := range tiers {
				fmt.Printf("priority %d: %d queued\n", tier.Priority, tier.Count)
			}

			queued, err := dispatch.QueuedSimulations(ctx)
			if err != nil {
				return err
			}
			for idx, entry := range queued {
				fmt.Printf("%4d. %s (priority %d, enqueued %s)\n",
					idx+1, entry.ID, entry.Priority, entry.EnqueuedAt.Format("2006-01-02 15:04:05"))
			}

			simulators, err := simulator.Find(ctx, simulator.All)
			if err != nil {
				return err
			}
			for _, sim := range simulators {
				fmt.Printf("simulator %s (registered %s)\n", sim.ID, sim.RegisteredAt.Format("2006-01-02 15:04:05"))
			}

			return nil
		},
	}
}

// Requeue returns the command that manually returns a running simulation to
// the queue, used when a simulator is known to have died mid-run.
func Requeue() cli.Command {
	const (
		simulatorFlagName  = "simulator"
		simulationFlagName = "simulation"
	)

	return cli.Command{
		Name:  "requeue",
		Usage: "return a running simulation to the queue after simulator liveness loss",
		Flags: serviceConfigFlags(
			cli.StringFlag{
				Name:  simulatorFlagName,
				Usage: "id of the simulator the simulation is bound to",
			},
			cli.StringFlag{
				Name:  simulationFlagName,
				Usage: "id of the simulation to requeue",
			},
			cli.IntFlag{
				Name:  priorityFlagName,
				Value: dss.DefaultPriority + dss.RequeuePriorityBoost,
				Usage: "priority to requeue the simulation with",
			},
		),
		Before: mergeBeforeFuncs(
			setPlainLogger,
			requireStringFlag(simulatorFlagName),
			requireStringFlag(simulationFlagName),
		),
		Action: func(c *cli.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			env, err := setupEnvironment(ctx, c)
			if err != nil {
				return err
			}
			defer func() { grip.Error(env.Close(ctx)) }()

			err = dispatch.Requeue(ctx, c.String(simulatorFlagName), c.String(simulationFlagName), c.Int(priorityFlagName))
			if errors.Cause(err) == dispatch.ErrNotRunning {
				return errors.Errorf("simulation '%s' is not running under simulator '%s'",
					c.String(simulationFlagName), c.String(simulatorFlagName))
			}
			return err
		},
	}
}

// Priority returns the command that changes the priority of a queued
// simulation without disturbing its insertion order within the new tier.
func Priority() cli.Command {
	const idFlagName = "id"

	return cli.Command{
		Name:  "priority",
		Usage: "change the priority of a queued simulation",
		Flags: serviceConfigFlags(
			cli.StringFlag{
				Name:  idFlagName,
				Usage: "id of the queued simulation",
			},
			cli.IntFlag{
				Name:  priorityFlagName,
				Usage: "priority to assign",
			},
		),
		Before: mergeBeforeFuncs(
			setPlainLogger,
			requireStringFlag(idFlagName),
		),
		Action: func(c *cli.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			env, err := setupEnvironment(ctx, c)
			if err != nil {
				return err
			}
			defer func() { grip.Error(env.Close(ctx)) }()

			err = dispatch.SetQueuePriority(ctx, c.String(idFlagName), c.Int(priorityFlagName))
			if errors.Cause(err) == dispatch.ErrNotQueued {
				return errors.Errorf("simulation '%s' is not queued", c.String(idFlagName))
			}
			return err
		},
	}
}

// Remove returns the command that deletes a simulation and all of its
// lifecycle rows.
func Remove() cli.Command {
	const idFlagName = "id"

	return cli.Command{
		Name:  "remove",
		Usage: "delete a simulation and its queue, running, and completion rows",
		Flags: serviceConfigFlags(
			cli.StringFlag{
				Name:  idFlagName,
				Usage: "id of the simulation to delete",
			},
		),
		Before: mergeBeforeFuncs(
			setPlainLogger,
			requireStringFlag(idFlagName),
		),
		Action: func(c *cli.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			env, err := setupEnvironment(ctx, c)
			if err != nil {
				return err
			}
			defer func() { grip.Error(env.Close(ctx)) }()

			return dispatch.RemoveSimulation(ctx, c.String(idFlagName))
		},
	}
}
