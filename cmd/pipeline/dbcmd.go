package main

import (
	"github.com/urfave/cli/v2"

	"trimet-pipeline/internal/db"
)

func dbCommand() *cli.Command {
	return &cli.Command{
		Name:  "db",
		Usage: "database maintenance",
		Subcommands: []*cli.Command{
			{
				Name:  "migrate",
				Usage: "create the trip, breadcrumb and stop_events tables if missing",
				Action: func(c *cli.Context) error {
					e, err := setup()
					if err != nil {
						return err
					}
					defer e.close()

					pool, err := e.database(c.Context)
					if err != nil {
						return err
					}
					if err := db.Migrate(c.Context, pool, e.tables()); err != nil {
						return err
					}
					e.log.Info().Msg("schema up to date")
					return nil
				},
			},
			{
				Name:  "counts",
				Usage: "print row counts of the target tables",
				Action: func(c *cli.Context) error {
					e, err := setup()
					if err != nil {
						return err
					}
					defer e.close()

					pool, err := e.database(c.Context)
					if err != nil {
						return err
					}
					t := e.tables()
					for _, table := range []string{t.Trip, t.Breadcrumb, t.StopEvent} {
						n, err := db.CountRows(c.Context, pool, table)
						if err != nil {
							return err
						}
						e.log.Info().Str("table", table).Int64("rows", n).Msg("count")
					}
					return nil
				},
			},
		},
	}
}
