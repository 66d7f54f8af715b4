package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oriys/nova/internal/domain"
	"github.com/oriys/nova/internal/secrets"
)

func secretBagJSON(b domain.SecretBag) ([]byte, error) {
	return json.Marshal(b)
}

func secretBagFromJSON(data []byte) (domain.SecretBag, error) {
	var b domain.SecretBag
	if err := json.Unmarshal(data, &b); err != nil {
		return domain.SecretBag{}, err
	}
	return b, nil
}

// PostgresStore is the Postgres-backed MetadataStore. Connection secrets
// are encrypted at rest with the same AES-256-GCM cipher internal/secrets
// uses for the Redis-backed secret store, so a database dump alone never
// discloses credential material.
type PostgresStore struct {
	pool   *pgxpool.Pool
	cipher *secrets.Cipher
}

// NewPostgresStore opens a pool against dsn, verifies connectivity, and
// ensures the schema this package owns exists. cipher encrypts/decrypts
// each connection descriptor's SecretBag; it must be the same cipher (and
// key) across restarts or existing descriptors become unreadable.
func NewPostgresStore(ctx context.Context, dsn string, cipher *secrets.Cipher) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}
	if cipher == nil {
		return nil, fmt.Errorf("secrets cipher is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	s := &PostgresStore{pool: pool, cipher: cipher}

	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if s.pool == nil {
		return fmt.Errorf("postgres not initialized")
	}
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS connections (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			vendor TEXT NOT NULL,
			host TEXT NOT NULL,
			port INTEGER NOT NULL,
			database_name TEXT NOT NULL,
			schema_name TEXT NOT NULL DEFAULT '',
			role_name TEXT NOT NULL DEFAULT '',
			warehouse TEXT NOT NULL DEFAULT '',
			catalog_name TEXT NOT NULL DEFAULT '',
			username TEXT NOT NULL DEFAULT '',
			secrets_enc BYTEA,
			ssl_mode TEXT NOT NULL,
			ssl_ca_path TEXT NOT NULL DEFAULT '',
			connect_timeout_ms BIGINT NOT NULL,
			query_timeout_ms BIGINT NOT NULL,
			pool_min INTEGER NOT NULL,
			pool_max INTEGER NOT NULL,
			pool_idle_evict_ms BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS invocation_logs (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			connection_id TEXT,
			credential_label TEXT NOT NULL DEFAULT '',
			operation TEXT NOT NULL,
			success BOOLEAN NOT NULL,
			error_tag TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			rows_processed BIGINT NOT NULL DEFAULT 0,
			rows_returned BIGINT NOT NULL DEFAULT 0,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			memory_used_mb BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS invocation_logs_workspace_created_idx
			ON invocation_logs (workspace_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS rate_limit_buckets (
			key TEXT PRIMARY KEY,
			tokens DOUBLE PRECISION NOT NULL,
			last_refill TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// --- connection descriptors ---

func (s *PostgresStore) encryptSecrets(b domain.SecretBag) ([]byte, error) {
	if b.Password == "" && b.APIKey == "" && len(b.Extra) == 0 {
		return nil, nil
	}
	plain, err := secretBagJSON(b)
	if err != nil {
		return nil, fmt.Errorf("marshal secrets: %w", err)
	}
	enc, err := s.cipher.Encrypt(plain)
	if err != nil {
		return nil, fmt.Errorf("encrypt secrets: %w", err)
	}
	return enc, nil
}

func (s *PostgresStore) decryptSecrets(enc []byte) (domain.SecretBag, error) {
	if len(enc) == 0 {
		return domain.SecretBag{}, nil
	}
	plain, err := s.cipher.Decrypt(enc)
	if err != nil {
		return domain.SecretBag{}, fmt.Errorf("decrypt secrets: %w", err)
	}
	return secretBagFromJSON(plain)
}

func (s *PostgresStore) CreateConnection(ctx context.Context, conn *domain.ConnectionDescriptor) error {
	if conn.Name == "" {
		return fmt.Errorf("connection name is required")
	}
	if conn.ID == "" {
		conn.ID = uuid.New().String()
	}
	now := time.Now()
	conn.CreatedAt, conn.UpdatedAt = now, now

	secretsEnc, err := s.encryptSecrets(conn.Secrets)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO connections (
			id, name, vendor, host, port, database_name, schema_name, role_name,
			warehouse, catalog_name, username, secrets_enc, ssl_mode, ssl_ca_path,
			connect_timeout_ms, query_timeout_ms, pool_min, pool_max, pool_idle_evict_ms,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
	`, conn.ID, conn.Name, string(conn.Vendor), conn.Host, conn.Port, conn.Database,
		conn.Schema, conn.Role, conn.Warehouse, conn.Catalog, conn.Username, secretsEnc,
		string(conn.SSL.Mode), conn.SSL.CAPath,
		conn.ConnectTimeout.Milliseconds(), conn.QueryTimeout.Milliseconds(),
		conn.Pool.Min, conn.Pool.Max, conn.Pool.IdleEvictAfter.Milliseconds(),
		conn.CreatedAt, conn.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create connection: %w", err)
	}
	return nil
}

func (s *PostgresStore) scanConnection(row pgx.Row) (*domain.ConnectionDescriptor, error) {
	var c domain.ConnectionDescriptor
	var vendor, sslMode string
	var connectMS, queryMS, idleMS int64
	var secretsEnc []byte
	err := row.Scan(&c.ID, &c.Name, &vendor, &c.Host, &c.Port, &c.Database, &c.Schema,
		&c.Role, &c.Warehouse, &c.Catalog, &c.Username, &secretsEnc, &sslMode, &c.SSL.CAPath,
		&connectMS, &queryMS, &c.Pool.Min, &c.Pool.Max, &idleMS, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Vendor = domain.Vendor(vendor)
	c.SSL.Mode = domain.SSLMode(sslMode)
	c.ConnectTimeout = time.Duration(connectMS) * time.Millisecond
	c.QueryTimeout = time.Duration(queryMS) * time.Millisecond
	c.Pool.IdleEvictAfter = time.Duration(idleMS) * time.Millisecond
	c.Secrets, err = s.decryptSecrets(secretsEnc)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

const connectionColumns = `id, name, vendor, host, port, database_name, schema_name, role_name,
	warehouse, catalog_name, username, secrets_enc, ssl_mode, ssl_ca_path,
	connect_timeout_ms, query_timeout_ms, pool_min, pool_max, pool_idle_evict_ms,
	created_at, updated_at`

func (s *PostgresStore) GetConnection(ctx context.Context, id string) (*domain.ConnectionDescriptor, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+connectionColumns+` FROM connections WHERE id = $1`, id)
	c, err := s.scanConnection(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("connection %s not found: %w", id, err)
	}
	if err != nil {
		return nil, fmt.Errorf("get connection: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) GetConnectionByName(ctx context.Context, name string) (*domain.ConnectionDescriptor, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+connectionColumns+` FROM connections WHERE name = $1`, name)
	c, err := s.scanConnection(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("connection %q not found: %w", name, err)
	}
	if err != nil {
		return nil, fmt.Errorf("get connection by name: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ListConnections(ctx context.Context) ([]*domain.ConnectionDescriptor, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+connectionColumns+` FROM connections ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	var out []*domain.ConnectionDescriptor
	for rows.Next() {
		c, err := s.scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list connections rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) UpdateConnection(ctx context.Context, id string, update *ConnectionUpdate) (*domain.ConnectionDescriptor, error) {
	current, err := s.GetConnection(ctx, id)
	if err != nil {
		return nil, err
	}

	if update.Name != nil {
		current.Name = *update.Name
	}
	if update.Host != nil {
		current.Host = *update.Host
	}
	if update.Port != nil {
		current.Port = *update.Port
	}
	if update.Database != nil {
		current.Database = *update.Database
	}
	if update.Schema != nil {
		current.Schema = *update.Schema
	}
	if update.Role != nil {
		current.Role = *update.Role
	}
	if update.Warehouse != nil {
		current.Warehouse = *update.Warehouse
	}
	if update.Catalog != nil {
		current.Catalog = *update.Catalog
	}
	if update.Username != nil {
		current.Username = *update.Username
	}
	if update.Secrets != nil {
		current.Secrets = *update.Secrets
	}
	if update.SSL != nil {
		current.SSL = *update.SSL
	}
	if update.ConnectTimeout != nil {
		current.ConnectTimeout = *update.ConnectTimeout
	}
	if update.QueryTimeout != nil {
		current.QueryTimeout = *update.QueryTimeout
	}
	if update.Pool != nil {
		current.Pool = *update.Pool
	}
	current.UpdatedAt = time.Now()

	secretsEnc, err := s.encryptSecrets(current.Secrets)
	if err != nil {
		return nil, err
	}

	_, err = s.pool.Exec(ctx, `
		UPDATE connections SET
			name=$2, vendor=$3, host=$4, port=$5, database_name=$6, schema_name=$7,
			role_name=$8, warehouse=$9, catalog_name=$10, username=$11, secrets_enc=$12,
			ssl_mode=$13, ssl_ca_path=$14, connect_timeout_ms=$15, query_timeout_ms=$16,
			pool_min=$17, pool_max=$18, pool_idle_evict_ms=$19, updated_at=$20
		WHERE id=$1
	`, current.ID, current.Name, string(current.Vendor), current.Host, current.Port,
		current.Database, current.Schema, current.Role, current.Warehouse, current.Catalog,
		current.Username, secretsEnc, string(current.SSL.Mode), current.SSL.CAPath,
		current.ConnectTimeout.Milliseconds(), current.QueryTimeout.Milliseconds(),
		current.Pool.Min, current.Pool.Max, current.Pool.IdleEvictAfter.Milliseconds(),
		current.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update connection: %w", err)
	}
	return current, nil
}

func (s *PostgresStore) DeleteConnection(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete connection tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.acquireDeleteOperationLock(ctx, tx); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `DELETE FROM connections WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("connection %s not found", id)
	}
	return tx.Commit(ctx)
}

// --- invocation logs ---

func (s *PostgresStore) SaveInvocationLog(ctx context.Context, log *InvocationLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO invocation_logs (
			id, workspace_id, connection_id, credential_label, operation, success,
			error_tag, error_message, rows_processed, rows_returned, duration_ms,
			memory_used_mb, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO NOTHING
	`, log.ID, log.WorkspaceID, log.ConnectionID, log.CredentialLabel, log.Operation,
		log.Success, log.ErrorTag, log.ErrorMessage, log.RowsProcessed, log.RowsReturned,
		log.DurationMS, log.MemoryUsedMB, log.CreatedAt)
	if err != nil {
		return fmt.Errorf("save invocation log: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveInvocationLogs(ctx context.Context, logs []*InvocationLog) error {
	if len(logs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, log := range logs {
		if log.ID == "" {
			log.ID = uuid.New().String()
		}
		if log.CreatedAt.IsZero() {
			log.CreatedAt = time.Now()
		}
		batch.Queue(`
			INSERT INTO invocation_logs (
				id, workspace_id, connection_id, credential_label, operation, success,
				error_tag, error_message, rows_processed, rows_returned, duration_ms,
				memory_used_mb, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
			ON CONFLICT (id) DO NOTHING
		`, log.ID, log.WorkspaceID, log.ConnectionID, log.CredentialLabel, log.Operation,
			log.Success, log.ErrorTag, log.ErrorMessage, log.RowsProcessed, log.RowsReturned,
			log.DurationMS, log.MemoryUsedMB, log.CreatedAt)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range logs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("save invocation log batch: %w", err)
		}
	}
	return nil
}

func scanInvocationLog(row pgx.Row) (*InvocationLog, error) {
	var log InvocationLog
	if err := row.Scan(&log.ID, &log.WorkspaceID, &log.ConnectionID, &log.CredentialLabel,
		&log.Operation, &log.Success, &log.ErrorTag, &log.ErrorMessage, &log.RowsProcessed,
		&log.RowsReturned, &log.DurationMS, &log.MemoryUsedMB, &log.CreatedAt); err != nil {
		return nil, err
	}
	return &log, nil
}

const invocationLogColumns = `id, workspace_id, connection_id, credential_label, operation,
	success, error_tag, error_message, rows_processed, rows_returned, duration_ms,
	memory_used_mb, created_at`

func (s *PostgresStore) ListInvocationLogs(ctx context.Context, workspaceID string, limit int) ([]*InvocationLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+invocationLogColumns+`
		FROM invocation_logs
		WHERE workspace_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list invocation logs: %w", err)
	}
	defer rows.Close()

	var logs []*InvocationLog
	for rows.Next() {
		log, err := scanInvocationLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invocation log: %w", err)
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list invocation logs rows: %w", err)
	}
	return logs, nil
}

func (s *PostgresStore) GetInvocationLog(ctx context.Context, id string) (*InvocationLog, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+invocationLogColumns+` FROM invocation_logs WHERE id = $1`, id)
	log, err := scanInvocationLog(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("invocation log %s not found: %w", id, err)
	}
	if err != nil {
		return nil, fmt.Errorf("get invocation log: %w", err)
	}
	return log, nil
}

// --- rate limiting ---

// CheckRateLimit performs token bucket rate limiting under a row lock.
// Returns (allowed, remaining tokens).
func (s *PostgresStore) CheckRateLimit(ctx context.Context, key string, maxTokens int, refillRate float64, requested int) (bool, int, error) {
	now := time.Now()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, 0, fmt.Errorf("begin rate limit tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var tokens float64
	var lastRefill time.Time
	err = tx.QueryRow(ctx, `
		SELECT tokens, last_refill FROM rate_limit_buckets
		WHERE key = $1 FOR UPDATE
	`, key).Scan(&tokens, &lastRefill)

	if errors.Is(err, pgx.ErrNoRows) {
		tokens = float64(maxTokens)
		lastRefill = now
	} else if err != nil {
		return false, 0, fmt.Errorf("get rate limit bucket: %w", err)
	}

	elapsed := now.Sub(lastRefill).Seconds()
	tokens = min(float64(maxTokens), tokens+elapsed*refillRate)

	allowed := tokens >= float64(requested)
	if allowed {
		tokens -= float64(requested)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO rate_limit_buckets (key, tokens, last_refill)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET
			tokens = EXCLUDED.tokens,
			last_refill = EXCLUDED.last_refill
	`, key, tokens, now)
	if err != nil {
		return false, 0, fmt.Errorf("update rate limit bucket: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, 0, fmt.Errorf("commit rate limit tx: %w", err)
	}

	return allowed, int(tokens), nil
}

// CleanupRateLimitBuckets removes bucket rows untouched since before
// olderThan, returning the number of rows removed.
func (s *PostgresStore) CleanupRateLimitBuckets(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM rate_limit_buckets WHERE last_refill < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("cleanup rate limit buckets: %w", err)
	}
	return tag.RowsAffected(), nil
}
