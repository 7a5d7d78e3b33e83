package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Tables names the three target tables.
type Tables struct {
	Trip       string
	Breadcrumb string
	StopEvent  string
}

// Ident quotes a possibly schema-qualified table name.
func Ident(table string) pgx.Identifier {
	return pgx.Identifier(strings.Split(table, "."))
}

// Schema returns the DDL creating the target tables if they do not exist.
func Schema(t Tables) []string {
	trip := Ident(t.Trip).Sanitize()
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  trip_id     bigint PRIMARY KEY,
  route_id    bigint,
  vehicle_id  bigint,
  service_key text,
  direction   text
)`, trip),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  tstamp    timestamp,
  latitude  double precision,
  longitude double precision,
  speed     double precision,
  trip_id   bigint REFERENCES %s (trip_id)
)`, Ident(t.Breadcrumb).Sanitize(), trip),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  vehicle_number    text,
  leave_time        text,
  train             text,
  route_number      text,
  direction         text,
  service_key       text,
  trip_number       text,
  stop_time         text,
  arrive_time       text,
  dwell             text,
  location_id       text,
  door              text,
  lift              text,
  ons               text,
  offs              text,
  estimated_load    text,
  maximum_speed     text,
  train_mileage     text,
  pattern_distance  text,
  location_distance text,
  x_coordinate      text,
  y_coordinate      text,
  data_source       text,
  schedule_status   text
)`, Ident(t.StopEvent).Sanitize()),
	}
}

// Migrate creates any missing target table in one transaction.
func Migrate(ctx context.Context, db Beginner, t Tables) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, stmt := range Schema(t) {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migrate: %w", err)
	}
	return nil
}
