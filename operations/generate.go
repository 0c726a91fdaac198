package operations

import (
	"context"

	"github.com/mongodb/grip"
	"github.com/pkg/errors"
	"github.com/ssbgp/dss"
	"github.com/ssbgp/dss/generator"
	"github.com/ssbgp/dss/model/dispatch"
	"github.com/urfave/cli"
)

// Generate returns the command that builds one simulation per
// (topology, destination) pair and enqueues the batch.
func Generate() cli.Command {
	const (
		topologiesFlagName   = "topologies"
		destinationsFlagName = "destinations"
		repetitionsFlagName  = "c"
		minDelayFlagName     = "min"
		maxDelayFlagName     = "max"
		thresholdFlagName    = "th"
		seedFlagName         = "seed"
		reportNodesFlagName  = "reportnodes"
	)

	return cli.Command{
		Name:  "generate",
		Usage: "generate simulations for every topology and destination and add them to the queue",
		Flags: serviceConfigFlags(
			cli.StringFlag{
				Name:  topologiesFlagName,
				Usage: "path to the topologies file (one 'name|stubsfile' per line)",
			},
			cli.StringFlag{
				Name:  destinationsFlagName,
				Usage: "path to the destinations file (one node id per line)",
			},
			cli.IntFlag{
				Name:  priorityFlagName,
				Value: dss.DefaultPriority,
				Usage: "priority to assign the generated simulations",
			},
			cli.IntFlag{
				Name:  repetitionsFlagName,
				Value: dss.DefaultRepetitions,
				Usage: "number of repetitions for each simulation",
			},
			cli.IntFlag{
				Name:  minDelayFlagName,
				Value: dss.DefaultMinDelay,
				Usage: "minimum message delay",
			},
			cli.IntFlag{
				Name:  maxDelayFlagName,
				Value: dss.DefaultMaxDelay,
				Usage: "maximum message delay",
			},
			cli.IntFlag{
				Name:  thresholdFlagName,
				Value: dss.DefaultThreshold,
				Usage: "threshold value for each simulation",
			},
			cli.Int64Flag{
				Name:  seedFlagName,
				Usage: "random seed shared by the generated simulations (omit for non-deterministic runs)",
			},
			cli.BoolFlag{
				Name:  reportNodesFlagName,
				Usage: "report node data individually",
			},
		),
		Before: mergeBeforeFuncs(
			setPlainLogger,
			requireStringFlag(topologiesFlagName),
			requireStringFlag(destinationsFlagName),
		),
		Action: func(c *cli.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			topologies, err := generator.ReadTopologies(c.String(topologiesFlagName))
			if err != nil {
				return errors.Wrap(err, "reading topologies")
			}
			destinations, err := generator.ReadDestinations(c.String(destinationsFlagName))
			if err != nil {
				return errors.Wrap(err, "reading destinations")
			}

			grip.Infof("found %d topologies and %d destinations", len(topologies), len(destinations))

			params := generator.Parameters{
				Repetitions: c.Int(repetitionsFlagName),
				MinDelay:    c.Int(minDelayFlagName),
				MaxDelay:    c.Int(maxDelayFlagName),
				Threshold:   c.Int(thresholdFlagName),
				ReportNodes: c.Bool(reportNodesFlagName),
			}
			if c.IsSet(seedFlagName) {
				seed := c.Int64(seedFlagName)
				params.Seed = &seed
			}

			sims, err := generator.Generate(topologies, destinations, params)
			if err != nil {
				return errors.Wrap(err, "generating simulations")
			}

			env, err := setupEnvironment(ctx, c)
			if err != nil {
				return err
			}
			defer func() { grip.Error(env.Close(ctx)) }()

			priority := c.Int(priorityFlagName)
			if err := dispatch.EnqueueAll(ctx, sims, priority); err != nil {
				return errors.Wrap(err, "enqueueing simulations")
			}

			grip.Infof("done, %d simulations were added with priority %d", len(sims), priority)
			return nil
		},
	}
}
