// Package catalog answers existence questions about categories and goals for
// rule validation and evaluation.
package catalog

import (
	"context"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/liamcoop/txrules/rules"
)

var (
	_ rules.CategoryChecker = (*Postgres)(nil)
	_ rules.GoalChecker     = (*Postgres)(nil)
)

// querier is the subset of pgxpool.Pool used here.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres checks categories and goals owned by a user.
type Postgres struct {
	db querier
}

// NewPostgres wraps an open pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{db: pool}
}

// Connect opens a pool against url and verifies it with a ping.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

func (p *Postgres) CategoryExists(ctx context.Context, scope, id int64) (bool, error) {
	return p.exists(ctx, `SELECT EXISTS(SELECT 1 FROM categories WHERE id = $1 AND user_id = $2)`, id, scope)
}

func (p *Postgres) GoalExists(ctx context.Context, scope, id int64) (bool, error) {
	return p.exists(ctx, `SELECT EXISTS(SELECT 1 FROM goals WHERE id = $1 AND user_id = $2)`, id, scope)
}

func (p *Postgres) exists(ctx context.Context, query string, id, scope int64) (bool, error) {
	var ok bool
	if err := p.db.QueryRow(ctx, query, id, scope).Scan(&ok); err != nil {
		return false, fmt.Errorf("existence check: %w", err)
	}
	return ok, nil
}

// Static is an in-memory catalog, used by the CLI and in tests.
type Static struct {
	Categories map[int64][]int64 // scope -> category ids
	Goals      map[int64][]int64 // scope -> goal ids
}

func (s Static) CategoryExists(_ context.Context, scope, id int64) (bool, error) {
	return slices.Contains(s.Categories[scope], id), nil
}

func (s Static) GoalExists(_ context.Context, scope, id int64) (bool, error) {
	return slices.Contains(s.Goals[scope], id), nil
}
