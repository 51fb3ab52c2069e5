package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/olgkv/cyclecount/internal/ports"
)

// Schema creates the tables used by PostgresGateway.
const Schema = `
CREATE TABLE IF NOT EXISTS cycle_count_tasks (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL DEFAULT '',
	location     TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'open',
	completed_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS cycle_count_assets (
	task_id  TEXT NOT NULL REFERENCES cycle_count_tasks (id) ON DELETE CASCADE,
	id       TEXT NOT NULL,
	position INTEGER NOT NULL,
	name     TEXT NOT NULL DEFAULT '',
	barcode  TEXT NOT NULL DEFAULT '',
	location TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	counted  BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (task_id, id)
);
ALTER TABLE cycle_count_assets ADD COLUMN IF NOT EXISTS counted_at TIMESTAMPTZ;
ALTER TABLE cycle_count_assets ADD COLUMN IF NOT EXISTS counted_by TEXT NOT NULL DEFAULT '';
CREATE TABLE IF NOT EXISTS user_roles (
	user_id TEXT PRIMARY KEY,
	role    TEXT
);`

// NewPool opens and pings a connection pool.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// dbtx is the subset of *pgxpool.Pool the gateway needs.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresGateway struct {
	db dbtx
}

func NewPostgresGateway(db dbtx) (*PostgresGateway, error) {
	if db == nil {
		return nil, errors.New("postgres gateway: nil pool")
	}
	return &PostgresGateway{db: db}, nil
}

func (g *PostgresGateway) Migrate(ctx context.Context) error {
	if _, err := g.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const (
	selectTaskSQL = `
		SELECT id, name, location, status, completed_at
		FROM cycle_count_tasks WHERE id = $1`
	selectAssetsSQL = `
		SELECT id, name, barcode, location, category, counted, counted_at, counted_by
		FROM cycle_count_assets WHERE task_id = $1
		ORDER BY position, id`
	selectAssetSQL = `
		SELECT id, name, barcode, location, category, counted, counted_at, counted_by
		FROM cycle_count_assets WHERE task_id = $1 AND id = $2`
	selectRoleSQL = `SELECT COALESCE(role, '') FROM user_roles WHERE user_id = $1`
	taskExistsSQL = `SELECT EXISTS (SELECT 1 FROM cycle_count_tasks WHERE id = $1)`

	upsertTaskSQL = `
		INSERT INTO cycle_count_tasks (id, name, location, status, completed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			location = EXCLUDED.location,
			status = EXCLUDED.status,
			completed_at = EXCLUDED.completed_at`
	// New assets go to the end of the task's list; zero rows means no task.
	upsertAssetSQL = `
		INSERT INTO cycle_count_assets (task_id, id, position, name, barcode, location, category, counted, counted_at, counted_by)
		SELECT t.id, $2, COALESCE(MAX(a.position) + 1, 0), $3, $4, $5, $6, $7, $8, $9
		FROM cycle_count_tasks t
		LEFT JOIN cycle_count_assets a ON a.task_id = t.id
		WHERE t.id = $1
		GROUP BY t.id
		ON CONFLICT (task_id, id) DO UPDATE SET
			name = EXCLUDED.name,
			barcode = EXCLUDED.barcode,
			location = EXCLUDED.location,
			category = EXCLUDED.category,
			counted = EXCLUDED.counted,
			counted_at = EXCLUDED.counted_at,
			counted_by = EXCLUDED.counted_by`
	upsertRoleSQL = `
		INSERT INTO user_roles (user_id, role) VALUES ($1, NULLIF($2, ''))
		ON CONFLICT (user_id) DO UPDATE SET role = EXCLUDED.role`
)

func (g *PostgresGateway) Get(ctx context.Context, path string) (json.RawMessage, error) {
	res, err := ports.ParseResource(path)
	if err != nil {
		return nil, err
	}

	var out any
	switch res.Kind {
	case ports.KindTask:
		var rec ports.TaskRecord
		err = g.db.QueryRow(ctx, selectTaskSQL, res.TaskID).
			Scan(&rec.ID, &rec.Name, &rec.Location, &rec.Status, &rec.CompletedAt)
		out = rec
	case ports.KindTaskAssets:
		var assets []ports.AssetRecord
		assets, err = g.assets(ctx, res.TaskID)
		out = assets
	case ports.KindTaskAsset:
		var rec ports.AssetRecord
		err = g.db.QueryRow(ctx, selectAssetSQL, res.TaskID, res.AssetID).
			Scan(&rec.ID, &rec.Name, &rec.Barcode, &rec.Location, &rec.Category, &rec.Counted, &rec.CountedAt, &rec.CountedBy)
		out = rec
	case ports.KindActorRole:
		var rec ports.RoleRecord
		err = g.db.QueryRow(ctx, selectRoleSQL, res.ActorID).Scan(&rec.Role)
		out = rec
	}
	if err != nil {
		return nil, translate(path, err)
	}
	return json.Marshal(out)
}

func (g *PostgresGateway) List(ctx context.Context, path string) ([]json.RawMessage, error) {
	res, err := ports.ParseResource(path)
	if err != nil {
		return nil, err
	}
	if res.Kind != ports.KindTaskAssets {
		return nil, fmt.Errorf("list %s: %s is not a collection", path, res.Kind)
	}

	assets, err := g.assets(ctx, res.TaskID)
	if err != nil {
		return nil, translate(path, err)
	}
	items := make([]json.RawMessage, 0, len(assets))
	for _, a := range assets {
		raw, err := json.Marshal(a)
		if err != nil {
			return nil, err
		}
		items = append(items, raw)
	}
	return items, nil
}

// assets distinguishes an unknown task (pgx.ErrNoRows) from an empty list.
func (g *PostgresGateway) assets(ctx context.Context, taskID string) ([]ports.AssetRecord, error) {
	var exists bool
	if err := g.db.QueryRow(ctx, taskExistsSQL, taskID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, pgx.ErrNoRows
	}

	rows, err := g.db.Query(ctx, selectAssetsSQL, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	assets := []ports.AssetRecord{}
	for rows.Next() {
		var a ports.AssetRecord
		if err := rows.Scan(&a.ID, &a.Name, &a.Barcode, &a.Location, &a.Category, &a.Counted, &a.CountedAt, &a.CountedBy); err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

func (g *PostgresGateway) Put(ctx context.Context, path string, record any) error {
	res, err := ports.ParseResource(path)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	switch res.Kind {
	case ports.KindTask:
		var rec ports.TaskRecord
		if err := decodeRecord(payload, &rec, &rec.ID, res.TaskID); err != nil {
			return fmt.Errorf("put %s: %w", path, err)
		}
		_, err = g.db.Exec(ctx, upsertTaskSQL, rec.ID, rec.Name, rec.Location, rec.Status, rec.CompletedAt)

	case ports.KindTaskAsset:
		var rec ports.AssetRecord
		if err := decodeRecord(payload, &rec, &rec.ID, res.AssetID); err != nil {
			return fmt.Errorf("put %s: %w", path, err)
		}
		var tag pgconn.CommandTag
		tag, err = g.db.Exec(ctx, upsertAssetSQL,
			res.TaskID, rec.ID, rec.Name, rec.Barcode, rec.Location, rec.Category, rec.Counted, rec.CountedAt, rec.CountedBy)
		if err == nil && tag.RowsAffected() == 0 {
			return fmt.Errorf("%s: %w", ports.TaskPath(res.TaskID), ports.ErrNotFound)
		}

	case ports.KindActorRole:
		var rec ports.RoleRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return fmt.Errorf("put %s: %w", path, err)
		}
		_, err = g.db.Exec(ctx, upsertRoleSQL, res.ActorID, rec.Role)

	default:
		return fmt.Errorf("put %s: %s is not writable", path, res.Kind)
	}

	if err != nil {
		return fmt.Errorf("put %s: %w", path, err)
	}
	return nil
}

func translate(path string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", path, ports.ErrNotFound)
	}
	return fmt.Errorf("query %s: %w", path, err)
}
