package main

import (
	"os"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/level"
	"github.com/mongodb/grip/send"
	"github.com/ssbgp/dss/operations"
	"github.com/urfave/cli"
)

func main() {
	app := buildApp()

	if err := app.Run(os.Args); err != nil {
		grip.EmergencyFatal(err)
	}
}

func buildApp() *cli.App {
	app := cli.NewApp()
	app.Name = "dss"
	app.Usage = "coordinate distributed SS-BGP simulations"
	app.Commands = []cli.Command{
		operations.Generate(),
		operations.Agent(),
		operations.Status(),
		operations.Requeue(),
		operations.Priority(),
		operations.Remove(),
	}

	app.Before = func(c *cli.Context) error {
		grip.SetName("dss")
		return grip.SetLevel(send.LevelInfo{Default: level.Info, Threshold: level.Debug})
	}

	return app
}
