package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/gemhq/gem/pkg/models"
)

// PostgresConfig holds connection pool settings.
type PostgresConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig returns default pool settings.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// PostgresStore implements Store using Postgres.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens and pings a Postgres connection pool.
func NewPostgresStore(dsn string, config *PostgresConfig) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if config == nil {
		config = DefaultPostgresConfig()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// DB exposes the underlying handle for the migrator.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases database resources.
func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Enqueue inserts a queued invocation.
func (s *PostgresStore) Enqueue(ctx context.Context, inv *models.Invocation) error {
	if inv == nil {
		return fmt.Errorf("invocation is required")
	}

	now := time.Now()
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = now
	}
	inv.UpdatedAt = now
	inv.Status = models.StatusQueued

	input := inv.Input
	if len(input) == 0 {
		input = []byte(`{}`)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invocations (call_id, tool_name, input, status, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		inv.CallID,
		inv.ToolName,
		[]byte(input),
		string(inv.Status),
		nullableString(inv.IdempotencyKey),
		inv.CreatedAt,
		inv.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("enqueue invocation: %w", err)
	}
	return nil
}

// Claim atomically claims the oldest queued invocation. The select and the
// update run in one transaction; FOR UPDATE SKIP LOCKED guarantees two
// concurrent workers see disjoint rows.
func (s *PostgresStore) Claim(ctx context.Context, workerID string) (*models.Invocation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			_ = err
		}
	}()

	row := tx.QueryRowContext(ctx, `
		SELECT call_id, tool_name, input, status, idempotency_key, worker_id, claimed_at, error, created_at, updated_at
		FROM invocations
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, string(models.StatusQueued))

	inv, err := scanInvocation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan claim: %w", err)
	}

	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		UPDATE invocations SET status = $1, worker_id = $2, claimed_at = $3, updated_at = $3
		WHERE call_id = $4
	`, string(models.StatusRunning), workerID, now, inv.CallID)
	if err != nil {
		return nil, fmt.Errorf("update claim: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	inv.Status = models.StatusRunning
	inv.WorkerID = workerID
	inv.ClaimedAt = &now
	inv.UpdatedAt = now
	return inv, nil
}

// MarkTerminal transitions a running invocation to its terminal status.
func (s *PostgresStore) MarkTerminal(ctx context.Context, callID string, status models.InvocationStatus, errMsg string) error {
	if !status.Terminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE invocations SET status = $1, error = $2, updated_at = now()
		WHERE call_id = $3 AND status = $4
	`, string(status), nullableString(errMsg), callID, string(models.StatusRunning))
	if err != nil {
		return fmt.Errorf("mark terminal: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark terminal rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("invocation %s is not running", callID)
	}
	return nil
}

// GetInvocation fetches one invocation by call id.
func (s *PostgresStore) GetInvocation(ctx context.Context, callID string) (*models.Invocation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT call_id, tool_name, input, status, idempotency_key, worker_id, claimed_at, error, created_at, updated_at
		FROM invocations WHERE call_id = $1
	`, callID)

	inv, err := scanInvocation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get invocation: %w", err)
	}
	return inv, nil
}

// ListRunningClaimedBefore returns running invocations claimed before cutoff.
func (s *PostgresStore) ListRunningClaimedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.Invocation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT call_id, tool_name, input, status, idempotency_key, worker_id, claimed_at, error, created_at, updated_at
		FROM invocations
		WHERE status = $1 AND claimed_at < $2
		ORDER BY claimed_at ASC
		LIMIT $3
	`, string(models.StatusRunning), cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list running: %w", err)
	}
	defer rows.Close()

	var invs []*models.Invocation
	for rows.Next() {
		inv, err := scanInvocation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan running: %w", err)
		}
		invs = append(invs, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list running: %w", err)
	}
	return invs, nil
}

// InsertReceipt writes a receipt row. The unique index on call_id makes the
// second writer lose.
func (s *PostgresStore) InsertReceipt(ctx context.Context, r *models.Receipt) error {
	if r == nil {
		return fmt.Errorf("receipt is required")
	}

	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	result := r.Result
	if len(result) == 0 {
		result = []byte(`{}`)
	}
	effects, err := json.Marshal(r.Effects)
	if err != nil {
		return fmt.Errorf("marshal effects: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO receipts (id, call_id, tool_name, status, result, effects, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, r.ID, r.CallID, r.ToolName, string(r.Status), []byte(result), effects, r.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("insert receipt: %w", err)
	}
	return nil
}

// GetReceiptByCall fetches the receipt for a call.
func (s *PostgresStore) GetReceiptByCall(ctx context.Context, callID string) (*models.Receipt, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, call_id, tool_name, status, result, effects, created_at
		FROM receipts WHERE call_id = $1
	`, callID)

	receipt, err := scanReceipt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get receipt: %w", err)
	}
	return receipt, nil
}

// FindReceiptByIdempotencyKey joins receipts to the invocations that carried
// the key and returns the earliest.
func (s *PostgresStore) FindReceiptByIdempotencyKey(ctx context.Context, key string) (*models.Receipt, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT r.id, r.call_id, r.tool_name, r.status, r.result, r.effects, r.created_at
		FROM receipts r
		JOIN invocations i ON i.call_id = r.call_id
		WHERE i.idempotency_key = $1
		ORDER BY r.created_at ASC
		LIMIT 1
	`, key)

	receipt, err := scanReceipt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find receipt by key: %w", err)
	}
	return receipt, nil
}

// FindSucceededKeyedReceipt looks up the earliest succeeded receipt for
// toolName whose invocation input carried keyValue in keyField.
func (s *PostgresStore) FindSucceededKeyedReceipt(ctx context.Context, toolName, keyField, keyValue string) (*models.Receipt, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT r.id, r.call_id, r.tool_name, r.status, r.result, r.effects, r.created_at
		FROM receipts r
		JOIN invocations i ON i.call_id = r.call_id
		WHERE i.tool_name = $1 AND i.input ->> $2 = $3 AND r.status = $4
		ORDER BY r.created_at ASC
		LIMIT 1
	`, toolName, keyField, keyValue, string(models.ReceiptSucceeded))

	receipt, err := scanReceipt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find keyed receipt: %w", err)
	}
	return receipt, nil
}

// InsertBrainRun records a brain run audit row. Best effort; callers log and
// continue on failure.
func (s *PostgresStore) InsertBrainRun(ctx context.Context, run *BrainRun) error {
	if run == nil {
		return fmt.Errorf("run is required")
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO brain_runs (run_id, message, mode, decision, planned, enqueued, receipts, status, errors, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		run.RunID,
		run.Message,
		run.Mode,
		jsonOrDefault(run.Decision, `{}`),
		jsonOrDefault(run.Planned, `[]`),
		jsonOrDefault(run.Enqueued, `[]`),
		jsonOrDefault(run.Receipts, `[]`),
		run.Status,
		jsonOrDefault(run.Errors, `[]`),
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert brain run: %w", err)
	}
	return nil
}

// Scanner interface for both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanInvocation(sc scanner) (*models.Invocation, error) {
	var inv models.Invocation
	var (
		input          []byte
		status         string
		idempotencyKey sql.NullString
		workerID       sql.NullString
		claimedAt      sql.NullTime
		errMsg         sql.NullString
	)

	err := sc.Scan(
		&inv.CallID,
		&inv.ToolName,
		&input,
		&status,
		&idempotencyKey,
		&workerID,
		&claimedAt,
		&errMsg,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	inv.Input = json.RawMessage(input)
	inv.Status = models.InvocationStatus(status)
	if idempotencyKey.Valid {
		inv.IdempotencyKey = idempotencyKey.String
	}
	if workerID.Valid {
		inv.WorkerID = workerID.String
	}
	if claimedAt.Valid {
		inv.ClaimedAt = &claimedAt.Time
	}
	if errMsg.Valid {
		inv.Error = errMsg.String
	}
	return &inv, nil
}

func scanReceipt(sc scanner) (*models.Receipt, error) {
	var r models.Receipt
	var (
		status  string
		result  []byte
		effects []byte
	)

	err := sc.Scan(&r.ID, &r.CallID, &r.ToolName, &status, &result, &effects, &r.CreatedAt)
	if err != nil {
		return nil, err
	}

	r.Status = models.ReceiptStatus(status)
	r.Result = json.RawMessage(result)
	if len(effects) > 0 {
		if err := json.Unmarshal(effects, &r.Effects); err != nil {
			return nil, fmt.Errorf("unmarshal effects: %w", err)
		}
	}
	return &r, nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func jsonOrDefault(raw json.RawMessage, def string) []byte {
	if len(raw) == 0 {
		return []byte(def)
	}
	return []byte(raw)
}

// isUniqueViolation reports whether err is Postgres error 23505.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
