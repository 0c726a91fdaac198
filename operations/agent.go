package operations

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mongodb/grip"
	"github.com/pkg/errors"
	"github.com/ssbgp/dss"
	"github.com/ssbgp/dss/agent"
	"github.com/urfave/cli"
)

// agentRunConfig is the merge of the agent command's flags with the agent
// section of the settings file. Flags win; the settings fill whatever the
// flags left unset.
type agentRunConfig struct {
	binary       string
	workingDir   string
	pollInterval time.Duration
}

func mergeAgentRunConfig(flags agentRunConfig, pollFlagSet bool, settings dss.AgentSettings) (agentRunConfig, error) {
	if flags.binary == "" {
		flags.binary = settings.SimulatorBinary
	}
	if flags.binary == "" {
		return flags, errors.New("no simulator binary given; set --simulator_binary or agent.simulator_binary in the settings file")
	}
	if flags.workingDir == "" {
		flags.workingDir = settings.WorkingDir
	}
	if !pollFlagSet && settings.PollInterval > 0 {
		flags.pollInterval = settings.PollInterval
	}
	return flags, nil
}

// Agent returns the command that runs a simulator worker process.
func Agent() cli.Command {
	const (
		simulatorIDFlagName  = "simulator_id"
		binaryFlagName       = "simulator_binary"
		workingDirFlagName   = "working_directory"
		pollIntervalFlagName = "poll_interval"
	)

	return cli.Command{
		Name:  "agent",
		Usage: "run a simulator worker that claims and executes queued simulations",
		Flags: serviceConfigFlags(
			cli.StringFlag{
				Name:  simulatorIDFlagName,
				Usage: "id this worker registers and claims under (generated when omitted)",
			},
			cli.StringFlag{
				Name:  binaryFlagName,
				Usage: "path to the simulator executable (falls back to the settings file)",
			},
			cli.StringFlag{
				Name:  workingDirFlagName,
				Usage: "working directory for simulation runs",
			},
			cli.DurationFlag{
				Name:  pollIntervalFlagName,
				Value: 10 * time.Second,
				Usage: "base delay between claim attempts against an empty queue",
			},
		),
		Before: setPlainLogger,
		Action: func(c *cli.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go handleSignals(cancel)

			env, err := setupEnvironment(ctx, c)
			if err != nil {
				return err
			}
			defer func() { grip.Error(env.Close(context.Background())) }()

			cfg, err := mergeAgentRunConfig(agentRunConfig{
				binary:       c.String(binaryFlagName),
				workingDir:   c.String(workingDirFlagName),
				pollInterval: c.Duration(pollIntervalFlagName),
			}, c.IsSet(pollIntervalFlagName), env.Settings().Agent)
			if err != nil {
				return err
			}

			runner, err := agent.NewExecRunner(cfg.binary, cfg.workingDir)
			if err != nil {
				return err
			}

			opts := agent.Options{
				SimulatorID:  c.String(simulatorIDFlagName),
				PollInterval: cfg.pollInterval,
				MaxSleep:     env.Settings().Agent.MaxSleep,
			}
			a, err := agent.New(opts, runner)
			if err != nil {
				return err
			}

			return a.Start(ctx)
		},
	}
}

func handleSignals(cancel context.CancelFunc) {
	defer cancel()

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	grip.Info("received signal, shutting down after the current run")
}
