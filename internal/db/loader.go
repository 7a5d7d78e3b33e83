package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrLoad = errors.New("load failed")

// LoadError reports a rolled-back load. It matches ErrLoad.
type LoadError struct {
	Table string
	Rows  int
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %d rows into %s: %v", e.Rows, e.Table, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

func (e *LoadError) Is(target error) bool { return target == ErrLoad }

// Beginner is satisfied by *pgxpool.Pool and *pgx.Conn.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type LoadMetrics interface {
	LoadedAdd(table string, n int64)
	LoadFailedInc(table string)
}

type noopMetrics struct{}

func (noopMetrics) LoadedAdd(string, int64) {}
func (noopMetrics) LoadFailedInc(string)    {}

// Rower is a record that knows its column values.
type Rower interface {
	Row() []any
}

type Loader struct {
	db      Beginner
	metrics LoadMetrics
	log     zerolog.Logger
}

func NewLoader(db Beginner, m LoadMetrics) *Loader {
	if m == nil {
		m = noopMetrics{}
	}
	return &Loader{db: db, metrics: m, log: log.Logger}
}

func (l *Loader) WithLogger(logger zerolog.Logger) *Loader {
	l.log = logger
	return l
}

// Load copies rows into table in a single transaction and returns the
// number of rows written. On any failure the transaction is rolled back and
// a *LoadError is returned. Loading the same rows twice writes them twice.
func (l *Loader) Load(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	fail := func(err error) (int64, error) {
		l.metrics.LoadFailedInc(table)
		l.log.Error().Err(err).Str("table", table).Int("rows", len(rows)).Msg("load rolled back")
		return 0, &LoadError{Table: table, Rows: len(rows), Err: err}
	}

	tx, err := l.db.Begin(ctx)
	if err != nil {
		return fail(fmt.Errorf("begin: %w", err))
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			l.log.Warn().Err(err).Str("table", table).Msg("rollback failed")
		}
	}()

	n, err := tx.CopyFrom(ctx, Ident(table), columns, pgx.CopyFromRows(rows))
	if err != nil {
		return fail(fmt.Errorf("copy: %w", err))
	}
	if err := tx.Commit(ctx); err != nil {
		return fail(fmt.Errorf("commit: %w", err))
	}

	l.metrics.LoadedAdd(table, n)
	l.log.Info().Str("table", table).Int64("rows", n).Msg("loaded")
	return n, nil
}

// Rows turns records into CopyFrom input.
func Rows[R Rower](records []R) [][]any {
	out := make([][]any, len(records))
	for i, r := range records {
		out[i] = r.Row()
	}
	return out
}
