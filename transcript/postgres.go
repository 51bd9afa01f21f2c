package transcript

import (
	"context"
	_ "embed" // needed for schema embedding
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opencount/senate-stv/count"
	"github.com/opencount/senate-stv/rational"
)

//go:embed schema.sql
var schema string

// PostgresStore is a durable transcript store: one election row per
// count, one round row per finished RoundRecord, keyed so a count can
// be replayed or audited after the process that ran it has exited.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a connection pool to url, in the teacher's
// internal/backends/postgres.New idiom (lazy connect; call Wait before
// Migrate).
func NewPostgresStore(ctx context.Context, url string) (*PostgresStore, error) {
	conf, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("transcript: invalid connection url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, conf)
	if err != nil {
		return nil, fmt.Errorf("transcript: creating connection pool: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Wait blocks until a connection to postgres can be established.
func (s *PostgresStore) Wait(ctx context.Context, log func(format string, a ...interface{})) {
	for ctx.Err() == nil {
		err := s.pool.Ping(ctx)
		if err == nil {
			return
		}
		if log != nil {
			log("waiting for postgres: %v", err)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

// Migrate creates the database schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("transcript: creating schema: %w", err)
	}
	return nil
}

// Close closes all connections. It blocks until all connections are
// closed.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// CreateElection starts a new transcript row and returns its id, to be
// passed to Append for every round of this count.
func (s *PostgresStore) CreateElection(ctx context.Context, name string, vacancies int, quota rational.Rational) (int, error) {
	sql := `INSERT INTO election (name, vacancies, quota) VALUES ($1, $2, $3) RETURNING id;`
	var id int
	if err := s.pool.QueryRow(ctx, sql, name, vacancies, quota.String()).Scan(&id); err != nil {
		return 0, fmt.Errorf("transcript: creating election: %w", err)
	}
	return id, nil
}

// Append records one finished round against electionID. Safe to call
// from outside the engine's call stack, after Step returns.
func (s *PostgresStore) Append(ctx context.Context, electionID int, rec count.RoundRecord) error {
	bs, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("transcript: encoding round %d: %w", rec.Number, err)
	}
	sql := `INSERT INTO round (election_id, number, record) VALUES ($1, $2, $3);`
	if _, err := s.pool.Exec(ctx, sql, electionID, rec.Number, bs); err != nil {
		return fmt.Errorf("transcript: writing round %d: %w", rec.Number, err)
	}
	return nil
}

// Rounds returns every round recorded for electionID, ordered by round
// number.
func (s *PostgresStore) Rounds(ctx context.Context, electionID int) ([]count.RoundRecord, error) {
	sql := `SELECT record FROM round WHERE election_id = $1 ORDER BY number;`
	rows, err := s.pool.Query(ctx, sql, electionID)
	if err != nil {
		return nil, fmt.Errorf("transcript: fetching rounds: %w", err)
	}
	defer rows.Close()

	var out []count.RoundRecord
	for rows.Next() {
		var bs []byte
		if err := rows.Scan(&bs); err != nil {
			return nil, fmt.Errorf("transcript: scanning round: %w", err)
		}
		var rec count.RoundRecord
		if err := json.Unmarshal(bs, &rec); err != nil {
			return nil, fmt.Errorf("transcript: decoding round: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transcript: iterating rounds: %w", err)
	}
	return out, nil
}
