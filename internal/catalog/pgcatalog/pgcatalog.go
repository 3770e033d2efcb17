// Package pgcatalog is a jackc/pgx/v5-backed Catalog: two tables,
// volumes and snapshots, giving the catalog a real SQL home instead of
// the in-process map memcatalog uses.
package pgcatalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openvstorage/xiovolumed/internal/catalog"
)

const schema = `
CREATE TABLE IF NOT EXISTS volumes (
    name TEXT PRIMARY KEY,
    size BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS snapshots (
    volume_name TEXT NOT NULL REFERENCES volumes(name) ON DELETE CASCADE,
    name TEXT NOT NULL,
    seq BIGSERIAL,
    PRIMARY KEY (volume_name, name)
);
`

// Catalog is a pgxpool-backed catalog.Catalog.
type Catalog struct {
	pool *pgxpool.Pool
}

// Open connects to connString and ensures the schema exists.
func Open(ctx context.Context, connString string) (*Catalog, error) {
	poolCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("pgcatalog: parse connection string: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("pgcatalog: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgcatalog: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgcatalog: apply schema: %w", err)
	}
	return &Catalog{pool: pool}, nil
}

func (c *Catalog) Close() { c.pool.Close() }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (c *Catalog) Register(ctx context.Context, name string, size uint64) error {
	_, err := c.pool.Exec(ctx, `INSERT INTO volumes (name, size) VALUES ($1, $2)`, name, int64(size))
	if isUniqueViolation(err) {
		return catalog.ErrAlreadyExists(name)
	}
	return err
}

func (c *Catalog) Unregister(ctx context.Context, name string) error {
	tag, err := c.pool.Exec(ctx, `DELETE FROM volumes WHERE name = $1`, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound(name)
	}
	return nil
}

func (c *Catalog) Resize(ctx context.Context, name string, size uint64) error {
	tag, err := c.pool.Exec(ctx, `UPDATE volumes SET size = $2 WHERE name = $1`, name, int64(size))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound(name)
	}
	return nil
}

func (c *Catalog) Get(ctx context.Context, name string) (catalog.Entry, error) {
	var size int64
	err := c.pool.QueryRow(ctx, `SELECT size FROM volumes WHERE name = $1`, name).Scan(&size)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Entry{}, catalog.ErrNotFound(name)
	}
	if err != nil {
		return catalog.Entry{}, err
	}
	return catalog.Entry{Name: name, Size: uint64(size)}, nil
}

func (c *Catalog) List(ctx context.Context) ([]catalog.Entry, error) {
	rows, err := c.pool.Query(ctx, `SELECT name, size FROM volumes ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []catalog.Entry
	for rows.Next() {
		var e catalog.Entry
		var size int64
		if err := rows.Scan(&e.Name, &size); err != nil {
			return nil, err
		}
		e.Size = uint64(size)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (c *Catalog) AddSnapshot(ctx context.Context, volume, snap string) error {
	_, err := c.pool.Exec(ctx, `INSERT INTO snapshots (volume_name, name) VALUES ($1, $2)`, volume, snap)
	if isUniqueViolation(err) {
		return catalog.ErrAlreadyExists(snap)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" { // foreign_key_violation
		return catalog.ErrNotFound(volume)
	}
	return err
}

// RemoveSnapshot rejects deleting anything but the newest snapshot of a
// volume, mirroring memvolume/memcatalog's linear has-children rule.
func (c *Catalog) RemoveSnapshot(ctx context.Context, volume, snap string) (bool, error) {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	var exists bool
	err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM snapshots WHERE volume_name = $1 AND name = $2)`, volume, snap).Scan(&exists)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, catalog.ErrNotFound(snap)
	}

	var latest string
	err = tx.QueryRow(ctx, `SELECT name FROM snapshots WHERE volume_name = $1 ORDER BY seq DESC LIMIT 1`, volume).Scan(&latest)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, catalog.ErrNotFound(snap)
	}
	if err != nil {
		return false, err
	}
	if latest != snap {
		return true, catalog.ErrHasChildren(snap)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM snapshots WHERE volume_name = $1 AND name = $2`, volume, snap)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, catalog.ErrNotFound(snap)
	}
	return false, tx.Commit(ctx)
}

func (c *Catalog) Snapshots(ctx context.Context, volume string) ([]string, error) {
	if _, err := c.Get(ctx, volume); err != nil {
		return nil, err
	}
	rows, err := c.pool.Query(ctx, `SELECT name FROM snapshots WHERE volume_name = $1 ORDER BY seq ASC`, volume)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}
