package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	// Pure Go SQLite driver
	_ "modernc.org/sqlite"

	"github.com/driftsync/driftsync/internal/delta"
	"github.com/driftsync/driftsync/internal/model"
	"github.com/driftsync/driftsync/internal/syncerr"
)

// SQLiteConfig configures the SQLite store
type SQLiteConfig struct {
	// Path to the database file
	Path string

	// JournalMode sets the SQLite journal mode (WAL, DELETE, TRUNCATE, etc.)
	JournalMode string

	// Synchronous sets the synchronous flag (OFF, NORMAL, FULL, EXTRA)
	Synchronous string

	// BusyTimeout is the lock acquisition timeout in milliseconds
	BusyTimeout int

	// MaxConnections is the max number of database connections
	MaxConnections int
}

// DefaultSQLiteConfig returns default configuration
func DefaultSQLiteConfig(path string) SQLiteConfig {
	return SQLiteConfig{
		Path:           path,
		JournalMode:    "WAL",
		Synchronous:    "NORMAL",
		BusyTimeout:    5000,
		MaxConnections: 10,
	}
}

// SQLite is a Store backed by a local SQLite database, so a replica's
// snapshots survive restarts and remain inspectable with standard tools
type SQLite struct {
	db     *sql.DB
	config SQLiteConfig

	mu     sync.RWMutex
	closed bool

	putEntity    *sql.Stmt
	getEntity    *sql.Stmt
	deleteEntity *sql.Stmt
	listEntities *sql.Stmt
	insertChange *sql.Stmt
	selectChange *sql.Stmt
}

// NewSQLite opens (or creates) the database and prepares the schema
func NewSQLite(config SQLiteConfig) (*SQLite, error) {
	if config.Path == "" {
		return nil, syncerr.InvalidArgument("sqlite store path is required", nil)
	}
	if config.JournalMode == "" {
		config.JournalMode = "WAL"
	}
	if config.Synchronous == "" {
		config.Synchronous = "NORMAL"
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = 5000
	}
	if config.MaxConnections <= 0 {
		config.MaxConnections = 10
	}

	dsn := fmt.Sprintf("%s?_journal_mode=%s&_synchronous=%s&_busy_timeout=%d",
		config.Path, config.JournalMode, config.Synchronous, config.BusyTimeout)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetMaxIdleConns(config.MaxConnections / 2)

	s := &SQLite{db: db, config: config}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}
	return s, nil
}

func (s *SQLite) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS entities (
			entity_type TEXT NOT NULL,
			entity_id   TEXT NOT NULL,
			data        BLOB NOT NULL,
			updated_at  INTEGER NOT NULL,
			PRIMARY KEY (entity_type, entity_id)
		);

		-- Acknowledged changes, one row per change, payload as JSON
		CREATE TABLE IF NOT EXISTS change_log (
			id          TEXT PRIMARY KEY,
			entity_id   TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			operation   TEXT NOT NULL,
			version     INTEGER NOT NULL,
			recorded_at INTEGER NOT NULL,
			data        BLOB NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_change_log_entity ON change_log(entity_id, version);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *SQLite) prepareStatements() error {
	var err error

	s.putEntity, err = s.db.Prepare(`
		INSERT OR REPLACE INTO entities (entity_type, entity_id, data, updated_at)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare put statement: %w", err)
	}

	s.getEntity, err = s.db.Prepare(`SELECT data FROM entities WHERE entity_type = ? AND entity_id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare get statement: %w", err)
	}

	s.deleteEntity, err = s.db.Prepare(`DELETE FROM entities WHERE entity_type = ? AND entity_id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete statement: %w", err)
	}

	s.listEntities, err = s.db.Prepare(`SELECT entity_id, data FROM entities WHERE entity_type = ? ORDER BY entity_id`)
	if err != nil {
		return fmt.Errorf("failed to prepare list statement: %w", err)
	}

	s.insertChange, err = s.db.Prepare(`
		INSERT OR REPLACE INTO change_log (id, entity_id, entity_type, operation, version, recorded_at, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare change insert statement: %w", err)
	}

	s.selectChange, err = s.db.Prepare(`
		SELECT data FROM change_log WHERE entity_id = ? ORDER BY version
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare change select statement: %w", err)
	}

	return nil
}

func (s *SQLite) guard() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return syncerr.Stopped("sqlite store")
	}
	return nil
}

func (s *SQLite) PutEntity(ctx context.Context, entityType, entityID string, doc delta.Document) error {
	if err := s.guard(); err != nil {
		return err
	}

	data, err := delta.Encode(doc)
	if err != nil {
		return err
	}
	if _, err := s.putEntity.ExecContext(ctx, entityType, entityID, data, time.Now().UnixNano()); err != nil {
		return fmt.Errorf("failed to write entity %s/%s: %w", entityType, entityID, err)
	}
	return nil
}

func (s *SQLite) GetEntity(ctx context.Context, entityType, entityID string) (delta.Document, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	var data []byte
	err := s.getEntity.QueryRowContext(ctx, entityType, entityID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound(entityType, entityID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read entity %s/%s: %w", entityType, entityID, err)
	}

	var doc delta.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode entity %s/%s: %w", entityType, entityID, err)
	}
	return doc, nil
}

func (s *SQLite) ListEntities(ctx context.Context, entityType string) (map[string]delta.Document, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	rows, err := s.listEntities.QueryContext(ctx, entityType)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()

	out := make(map[string]delta.Document)
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("failed to scan entity row: %w", err)
		}
		var doc delta.Document
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to decode entity %s/%s: %w", entityType, id, err)
		}
		out[id] = doc
	}
	return out, rows.Err()
}

func (s *SQLite) DeleteEntity(ctx context.Context, entityType, entityID string) error {
	if err := s.guard(); err != nil {
		return err
	}

	if _, err := s.deleteEntity.ExecContext(ctx, entityType, entityID); err != nil {
		return fmt.Errorf("failed to delete entity %s/%s: %w", entityType, entityID, err)
	}
	return nil
}

func (s *SQLite) AppendChanges(ctx context.Context, changes ...*model.DeltaChange) error {
	if err := s.guard(); err != nil {
		return err
	}
	if len(changes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt := tx.StmtContext(ctx, s.insertChange)
	for _, change := range changes {
		data, err := json.Marshal(change)
		if err != nil {
			return fmt.Errorf("failed to encode change %s: %w", change.ID, err)
		}
		_, err = stmt.ExecContext(ctx, change.ID, change.EntityID, change.EntityType,
			string(change.Operation), change.Version, time.Now().UnixNano(), data)
		if err != nil {
			return fmt.Errorf("failed to write change %s: %w", change.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) ChangeHistory(ctx context.Context, entityID string) ([]*model.DeltaChange, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	rows, err := s.selectChange.QueryContext(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query change history: %w", err)
	}
	defer rows.Close()

	var history []*model.DeltaChange
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan change row: %w", err)
		}
		var change model.DeltaChange
		if err := json.Unmarshal(data, &change); err != nil {
			return nil, fmt.Errorf("failed to decode change: %w", err)
		}
		history = append(history, &change)
	}
	return history, rows.Err()
}

func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	for _, stmt := range []*sql.Stmt{
		s.putEntity, s.getEntity, s.deleteEntity,
		s.listEntities, s.insertChange, s.selectChange,
	} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}
