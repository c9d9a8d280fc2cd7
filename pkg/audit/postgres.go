package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4/pgxpool"
	"go.uber.org/zap"
)

const auditSchema = `
	CREATE TABLE IF NOT EXISTS audit_entries (
		id                TEXT PRIMARY KEY,
		timestamp         TIMESTAMPTZ NOT NULL,
		user_id           TEXT,
		action            TEXT NOT NULL,
		resource          TEXT,
		resource_id       TEXT,
		details           JSONB,
		severity          TEXT NOT NULL,
		category          TEXT NOT NULL,
		outcome           TEXT NOT NULL,
		data_hash         TEXT NOT NULL,
		encrypted_details TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_entries (timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_user ON audit_entries (user_id);
	CREATE INDEX IF NOT EXISTS idx_audit_category ON audit_entries (category)`

// PostgresStore persists audit entries in PostgreSQL
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore connects to the database, ensures the audit table
// exists, and returns a ready store
func NewPostgresStore(ctx context.Context, connStr string, maxConns int, logger *zap.Logger) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	if maxConns > 0 {
		config.MaxConns = int32(maxConns)
	}
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.ConnectConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := pool.Exec(ctx, auditSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating audit table: %w", err)
	}

	return &PostgresStore{pool: pool, logger: logger}, nil
}

// Append inserts a single entry. The id is the primary key, so a
// duplicate insert is treated as already persisted.
func (s *PostgresStore) Append(entry *Entry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("encoding details: %w", err)
	}

	query := `
		INSERT INTO audit_entries (
			id, timestamp, user_id, action, resource, resource_id,
			details, severity, category, outcome, data_hash, encrypted_details
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)`

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = s.pool.Exec(ctx, query,
		entry.ID, entry.Timestamp, entry.UserID, entry.Action,
		entry.Resource, entry.ResourceID, details, entry.Severity,
		entry.Category, entry.Outcome, entry.DataHash, entry.EncryptedDetails,
	)
	if err != nil {
		if isPgDuplicateError(err) {
			s.logger.Debug("Audit entry already persisted", zap.String("entryID", entry.ID))
			return nil
		}
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func isPgDuplicateError(err error) bool {
	pgErr, ok := err.(*pgconn.PgError)
	return ok && pgErr.Code == "23505" // unique_violation
}
