package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formrunner/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotFound is returned when no record exists for a job id.
var ErrNotFound = errors.New("job result not found")

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// JobRecord is the persisted outcome of a job's final attempt.
type JobRecord struct {
	JobID        string             `json:"jobId"`
	SessionID    string             `json:"sessionId"`
	AccountID    string             `json:"accountId"`
	State        string             `json:"status"`
	Attempts     int                `json:"attempts"`
	Success      bool               `json:"success"`
	CheckoutType string             `json:"checkoutType,omitempty"`
	OrderNumber  string             `json:"orderNumber,omitempty"`
	Error        string             `json:"error,omitempty"`
	Result       *schemas.JobResult `json:"result,omitempty"`
	FinishedAt   time.Time          `json:"finishedAt"`
}

const schemaSQL = `
        CREATE TABLE IF NOT EXISTS job_results (
            job_id        TEXT PRIMARY KEY,
            session_id    TEXT NOT NULL,
            account_id    TEXT NOT NULL,
            state         TEXT NOT NULL,
            attempts      INTEGER NOT NULL,
            success       BOOLEAN NOT NULL,
            checkout_type TEXT NOT NULL DEFAULT '',
            order_number  TEXT NOT NULL DEFAULT '',
            error         TEXT NOT NULL DEFAULT '',
            payload       JSONB NOT NULL,
            finished_at   TIMESTAMPTZ NOT NULL
        );
    `

const upsertSQL = `
        INSERT INTO job_results (job_id, session_id, account_id, state, attempts, success, checkout_type, order_number, error, payload, finished_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (job_id) DO UPDATE SET
            state = EXCLUDED.state,
            attempts = EXCLUDED.attempts,
            success = EXCLUDED.success,
            checkout_type = EXCLUDED.checkout_type,
            order_number = EXCLUDED.order_number,
            error = EXCLUDED.error,
            payload = EXCLUDED.payload,
            finished_at = EXCLUDED.finished_at;
    `

const selectSQL = `
        SELECT job_id, session_id, account_id, state, attempts, success, checkout_type, order_number, error, payload, finished_at
        FROM job_results
        WHERE job_id = $1;
    `

// Store persists job results in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// Open connects a pgx pool to url and wraps it in a Store. The returned
// function closes the pool.
func Open(ctx context.Context, url string, logger *zap.Logger) (*Store, func(), error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	s, err := New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool.Close, nil
}

// EnsureSchema creates the job_results table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create job_results table: %w", err)
	}
	return nil
}

// PersistResult inserts or replaces the record for rec.JobID.
func (s *Store) PersistResult(ctx context.Context, rec JobRecord) error {
	payload, err := encodePayload(rec.Result)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, upsertSQL,
		rec.JobID, rec.SessionID, rec.AccountID,
		rec.State, rec.Attempts, rec.Success,
		rec.CheckoutType, rec.OrderNumber, rec.Error,
		payload,
		rec.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert job result %s: %w", rec.JobID, err)
	}
	s.log.Debug("Persisted job result", zap.String("job_id", rec.JobID), zap.String("state", rec.State))
	return nil
}

// GetResult loads the record for jobID.
func (s *Store) GetResult(ctx context.Context, jobID string) (*JobRecord, error) {
	var (
		rec     JobRecord
		payload []byte
	)
	err := s.pool.QueryRow(ctx, selectSQL, jobID).Scan(
		&rec.JobID, &rec.SessionID, &rec.AccountID,
		&rec.State, &rec.Attempts, &rec.Success,
		&rec.CheckoutType, &rec.OrderNumber, &rec.Error,
		&payload,
		&rec.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query job result %s: %w", jobID, err)
	}

	if len(payload) > 0 && string(payload) != "{}" && string(payload) != "null" {
		var res schemas.JobResult
		if err := json.Unmarshal(payload, &res); err != nil {
			return nil, fmt.Errorf("failed to decode job result payload: %w", err)
		}
		rec.Result = &res
	}
	return &rec, nil
}

// encodePayload serializes the result for the JSONB column. A missing result
// is stored as an empty object rather than null.
func encodePayload(res *schemas.JobResult) ([]byte, error) {
	if res == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job result payload: %w", err)
	}
	return b, nil
}

// NopStore discards results. It is used when no database is configured.
type NopStore struct{}

func (NopStore) PersistResult(context.Context, JobRecord) error { return nil }

func (NopStore) GetResult(context.Context, string) (*JobRecord, error) { return nil, ErrNotFound }
