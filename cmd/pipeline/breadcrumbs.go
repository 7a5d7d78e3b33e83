package main

import (
	"github.com/urfave/cli/v2"

	"trimet-pipeline/internal/breadcrumb"
	"trimet-pipeline/internal/consumer"
	"trimet-pipeline/internal/fetcher"
	"trimet-pipeline/internal/logging"
	"trimet-pipeline/internal/pipeline"
	"trimet-pipeline/internal/publisher"
)

func breadcrumbCommand() *cli.Command {
	const kind = pipeline.KindBreadcrumb
	return &cli.Command{
		Name:  "breadcrumbs",
		Usage: "GPS breadcrumb jobs",
		Subcommands: []*cli.Command{
			{
				Name:   "gather",
				Usage:  "fetch breadcrumbs for every vehicle into the spool",
				Action: gatherAction(kind),
			},
			{
				Name:   "publish",
				Usage:  "publish spooled breadcrumbs",
				Action: publishAction(kind),
			},
			{
				Name:  "consume",
				Usage: "drain the breadcrumb topic and load trip and breadcrumb",
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

					cons := consumer.New(topic, breadcrumb.Decode,
						consumer.WithMetrics(e.metrics.Kind(kind)),
						consumer.WithLogger(logging.Component("consumer")),
					)
					ctx, cancel := stopOnSignal(c.Context, cons.Stop, e.log)
					defer cancel()

					rep, err := e.pipeline(pool).ConsumeBreadcrumbs(ctx, cons, e.cfg.DrainIdleTimeout)
					rep.Log(e.log)
					return err
				},
			},
			{
				Name:  "load-direct",
				Usage: "fetch, derive, validate and load without the channel",
				Action: func(c *cli.Context) error {
					e, err := setup()
					if err != nil {
						return err
					}
					defer e.close()
					if err := e.cfg.RequireVehicleIDs(); err != nil {
						return err
					}
					ids, err := fetcher.ReadVehicleIDs(e.cfg.VehicleIDsFile)
					if err != nil {
						return err
					}

					ctx, cancel := interruptible(c.Context)
					defer cancel()

					pool, err := e.database(ctx)
					if err != nil {
						return err
					}

					client := fetcher.NewClient(e.cfg.HTTPTimeout)
					logger := logging.Component("fetcher")
					var raws []breadcrumb.Raw
					for _, vid := range ids {
						recs, err := client.Breadcrumbs(ctx, e.cfg.BreadcrumbURL, vid)
						if err != nil {
							logger.Warn().Err(err).Str("vehicle", vid).Msg("skipping vehicle")
							continue
						}
						e.metrics.Kind(kind).GatheredAdd(len(recs))
						raws = append(raws, pipeline.DecodeBreadcrumbs(recs, logger)...)
					}
					logger.Info().Int("vehicles", len(ids)).Int("records", len(raws)).Msg("gathered")

					rep, err := e.pipeline(pool).LoadBreadcrumbs(ctx, raws)
					rep.Log(e.log)
					return err
				},
			},
		},
	}
}

func gatherAction(kind string) cli.ActionFunc {
	return func(c *cli.Context) error {
		e, err := setup()
		if err != nil {
			return err
		}
		defer e.close()
		if err := e.cfg.RequireVehicleIDs(); err != nil {
			return err
		}
		ids, err := fetcher.ReadVehicleIDs(e.cfg.VehicleIDsFile)
		if err != nil {
			return err
		}

		ctx, cancel := interruptible(c.Context)
		defer cancel()

		g := fetcher.NewGatherer(fetcher.NewClient(e.cfg.HTTPTimeout), e.cfg.BreadcrumbURL, e.cfg.StopEventURL)
		g.Metrics = e.metrics.Kind(kind)
		g.Log = logging.Component("fetcher")

		spool := fetcher.Spool{Dir: e.spool(kind)}
		if kind == pipeline.KindStopEvent {
			g.StopEvents(ctx, ids, spool)
		} else {
			g.Breadcrumbs(ctx, ids, spool)
		}
		return ctx.Err()
	}
}

func publishAction(kind string) cli.ActionFunc {
	return func(c *cli.Context) error {
		e, err := setup()
		if err != nil {
			return err
		}
		defer e.close()

		ctx, cancel := interruptible(c.Context)
		defer cancel()

		topic, err := e.topic(ctx, kind)
		if err != nil {
			return err
		}
		p := publisher.New(topic, e.cfg.PublishMaxPending,
			publisher.WithMetrics(e.metrics.Kind(kind)),
			publisher.WithLogger(logging.Component("publisher")),
		)
		res, err := p.PublishDir(ctx, e.spool(kind))
		e.log.Info().
			Str("kind", kind).
			Int("submitted", res.Submitted).
			Int("published", res.Published).
			Int("failed", res.Failed).
			Msg("publish finished")
		return err
	}
}
