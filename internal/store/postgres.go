package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voyagen/iptvmine/internal/models"
)

// Postgres implements SourceStore on the sources table.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres store from a DSN. Caller must call Close when done.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) SourceURLs(ctx context.Context) ([]string, error) {
	sources, err := p.ListSources(ctx)
	if err != nil {
		return nil, err
	}
	return enabledURLs(sources), nil
}

func (p *Postgres) ListSources(ctx context.Context) ([]models.SourceConfig, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, url, name, enabled, priority FROM sources ORDER BY priority, created_at`)
	if err != nil {
		return nil, fmt.Errorf("ListSources: %w", err)
	}
	sources, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.SourceConfig, error) {
		var s models.SourceConfig
		err := row.Scan(&s.ID, &s.URL, &s.Name, &s.Enabled, &s.Priority)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("ListSources scan: %w", err)
	}
	return sources, nil
}

func (p *Postgres) SetSources(ctx context.Context, urls []string) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM sources`); err != nil {
			return fmt.Errorf("clear sources: %w", err)
		}
		return insertSources(ctx, tx, cleanURLs(urls), 0)
	})
}

func insertSources(ctx context.Context, tx pgx.Tx, urls []string, firstPriority int) error {
	for i, u := range urls {
		c := newSourceConfig(u, firstPriority+i)
		if _, err := tx.Exec(ctx,
			`INSERT INTO sources (id, url, name, enabled, priority) VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (url) DO NOTHING`,
			c.ID, c.URL, c.Name, c.Enabled, c.Priority,
		); err != nil {
			return fmt.Errorf("insert source %s: %w", u, err)
		}
	}
	return nil
}

func (p *Postgres) AddSource(ctx context.Context, url string) (bool, error) {
	url = strings.TrimSpace(url)
	if !ValidSourceURL(url) {
		return false, nil
	}
	added := false
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		var count, next int
		if err := tx.QueryRow(ctx,
			`SELECT count(*), COALESCE(MAX(priority) + 1, 0) FROM sources`,
		).Scan(&count, &next); err != nil {
			return fmt.Errorf("count sources: %w", err)
		}
		// Adding to an unconfigured store extends the defaults, as a user would see them.
		if count == 0 {
			defaults := DefaultSources()
			if err := insertSources(ctx, tx, defaults, 0); err != nil {
				return err
			}
			next = len(defaults)
		}
		c := newSourceConfig(url, next)
		tag, err := tx.Exec(ctx,
			`INSERT INTO sources (id, url, name, enabled, priority) VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (url) DO NOTHING`,
			c.ID, c.URL, c.Name, c.Enabled, c.Priority,
		)
		if err != nil {
			return fmt.Errorf("insert source: %w", err)
		}
		added = tag.RowsAffected() == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("AddSource: %w", err)
	}
	return added, nil
}

func (p *Postgres) RemoveSource(ctx context.Context, url string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM sources WHERE url = $1`, strings.TrimSpace(url)); err != nil {
		return fmt.Errorf("RemoveSource: %w", err)
	}
	return nil
}

func (p *Postgres) ResetToDefaults(ctx context.Context) error {
	return p.SetSources(ctx, DefaultSources())
}
