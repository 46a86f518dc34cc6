package main

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	stdlog "log"

	"fedipull/cmd"
	"fedipull/internal/config"
	"fedipull/internal/logger"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := app().Run(os.Args); err != nil {
		stdlog.Fatalf("error running the app: %v", err)
	}
}

func app() *cli.App {
	helpName := color.YellowString(filepath.Base(os.Args[0]))
	year := strconv.Itoa(time.Now().UTC().Year())

	app := &cli.App{
		Usage:       "Federated firehose ingress",
		HelpName:    helpName,
		Version:     "v0.1.0",
		Compiled:    time.Now().UTC(),
		Copyright:   "© " + year + " fedipull",
		Description: "Watches the public firehose and pulls posts matching the instance's list definitions.",
		Commands:    cmd.Commands,
		Before:      before,
	}

	app.Suggest = true
	return app
}

func before(c *cli.Context) error {
	stdlog.Print("Initializing application configuration")
	if err := config.InitConfig(); err != nil {
		stdlog.Fatalf("error loading config: %v", err)
		return err
	}

	logger.InitializeLogger()

	return nil
}
