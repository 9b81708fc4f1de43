// Package pgsink loads normalized tables into PostgreSQL.
package pgsink

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/matsen/scholartab/internal/paper"
)

// Beginner starts transactions. Satisfied by *pgxpool.Pool and by pgxmock
// pools in tests.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Sink replaces the contents of the nine tables on each write.
type Sink struct {
	db     Beginner
	logger zerolog.Logger
}

// New returns a sink writing through db.
func New(db Beginner, logger zerolog.Logger) *Sink {
	return &Sink{db: db, logger: logger.With().Str("component", "pgsink").Logger()}
}

// Connect opens a connection pool and pings it.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return pool, nil
}

// Write truncates every table and copies t in, all in one transaction.
// Returns the number of rows copied per table.
func (s *Sink) Write(ctx context.Context, t *paper.Tables) (map[string]int64, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}

	counts, err := copyAll(ctx, tx, t)
	if err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			s.logger.Error().Err(rbErr).AnErr("original_error", err).Msg("failed to rollback transaction")
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing: %w", err)
	}

	s.logger.Info().Interface("rows", counts).Msg("postgres tables replaced")
	return counts, nil
}

func copyAll(ctx context.Context, tx pgx.Tx, t *paper.Tables) (map[string]int64, error) {
	if _, err := tx.Exec(ctx, truncateStatement()); err != nil {
		return nil, fmt.Errorf("truncating tables: %w", err)
	}

	counts := make(map[string]int64, len(paper.TableNames))
	for _, tbl := range t.List() {
		if len(tbl.Rows) == 0 {
			counts[tbl.Name] = 0
			continue
		}
		n, err := tx.CopyFrom(ctx, pgx.Identifier{tbl.Name}, columnNames(tbl.Columns), pgx.CopyFromRows(copyRows(tbl)))
		if err != nil {
			return nil, fmt.Errorf("copying %s: %w", tbl.Name, err)
		}
		if n != int64(len(tbl.Rows)) {
			return nil, fmt.Errorf("copying %s: wrote %d of %d rows", tbl.Name, n, len(tbl.Rows))
		}
		counts[tbl.Name] = n
	}
	return counts, nil
}

func truncateStatement() string {
	names := make([]string, len(paper.TableNames))
	for i, n := range paper.TableNames {
		names[i] = pgx.Identifier{n}.Sanitize()
	}
	return "TRUNCATE " + strings.Join(names, ", ")
}

func columnNames(cols []paper.Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// copyRows maps empty strings to NULL so both stores agree on absence.
func copyRows(tbl paper.Table) [][]any {
	out := make([][]any, len(tbl.Rows))
	for i, row := range tbl.Rows {
		vals := row.Values()
		for j, v := range vals {
			switch x := v.(type) {
			case string:
				if x == "" {
					vals[j] = nil
				}
			case *int64:
				if x == nil {
					vals[j] = nil
				} else {
					vals[j] = *x
				}
			}
		}
		out[i] = vals
	}
	return out
}
