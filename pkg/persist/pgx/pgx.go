package pgx

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/abie0416/BiegeAI/pkg/logger"
	"github.com/abie0416/BiegeAI/pkg/persist"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	saveSnapshotSQL = `INSERT INTO graph_snapshots (key, blob, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE SET blob = EXCLUDED.blob, updated_at = now()`

	loadSnapshotSQL = `SELECT blob FROM graph_snapshots WHERE key = $1`
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
}

// PgxStore keeps blobs in the graph_snapshots table.
type PgxStore struct {
	conn pgxIConn
}

// NewPgxStoreWithConnection creates a store on an existing pool or
// connection. The schema must already be migrated.
func NewPgxStoreWithConnection(conn pgxIConn) *PgxStore {
	return &PgxStore{conn: conn}
}

// Migrate applies the embedded schema migrations to databaseURL.
func Migrate(databaseURL string) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	version, dirty, _ := m.Version()
	logger.Debug("[Persist] Database schema ready", "version", version, "dirty", dirty)
	return nil
}

func (s *PgxStore) Save(ctx context.Context, key string, blob []byte) error {
	if _, err := s.conn.Exec(ctx, saveSnapshotSQL, key, blob); err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	return nil
}

func (s *PgxStore) Load(ctx context.Context, key string) ([]byte, error) {
	var blob []byte
	err := s.conn.QueryRow(ctx, loadSnapshotSQL, key).Scan(&blob)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return nil, persist.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return blob, nil
}
