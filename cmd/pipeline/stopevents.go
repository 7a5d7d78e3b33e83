package main

import (
	"github.com/urfave/cli/v2"

	"trimet-pipeline/internal/consumer"
	"trimet-pipeline/internal/logging"
	"trimet-pipeline/internal/pipeline"
	"trimet-pipeline/internal/stopevent"
)

func stopEventCommand() *cli.Command {
	const kind = pipeline.KindStopEvent
	return &cli.Command{
		Name:  "stopevents",
		Usage: "stop event jobs",
		Subcommands: []*cli.Command{
			{
				Name:   "gather",
				Usage:  "scrape stop events for every vehicle into the spool",
				Action: gatherAction(kind),
			},
			{
				Name:   "publish",
				Usage:  "publish spooled stop events",
				Action: publishAction(kind),
			},
			{
				Name:  "consume",
				Usage: "drain the stop event topic and load stop_events",
				Action: func(c *cli.Context) error {
					e, err := setup()
					if err != nil {
						return err
					}
					defer e.close()

					topic, err := e.topic(c.Context, kind)
					if err != nil {
						return err
					}
					pool, err := e.database(c.Context)
					if err != nil {
						return err
					}

					cons := consumer.New(topic, stopevent.Decode,
						consumer.WithMetrics(e.metrics.Kind(kind)),
						consumer.WithLogger(logging.Component("consumer")),
					)
					ctx, cancel := stopOnSignal(c.Context, cons.Stop, e.log)
					defer cancel()

					rep, err := e.pipeline(pool).ConsumeStopEvents(ctx, cons, e.cfg.DrainIdleTimeout)
					rep.Log(e.log)
					return err
				},
			},
		},
	}
}
