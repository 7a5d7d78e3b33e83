package main

import (
	"context"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"trimet-pipeline/internal/logging"
)

func main() {
	logging.Setup(os.Getenv("LOG_FORMAT"), os.Getenv("LOG_LEVEL"))

	app := &cli.App{
		Name:  "pipeline",
		Usage: "TriMet breadcrumb and stop-event ingestion jobs",
		Commands: []*cli.Command{
			breadcrumbCommand(),
			stopEventCommand(),
			dbCommand(),
		},
	}

	if err := app.RunContext(context.Background(), os.Args); err != nil {
		log.Fatal().Err(err).Msg("job failed")
	}
}
