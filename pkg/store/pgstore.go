package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PG is the Postgres-backed store.
type PG struct {
	pool *pgxpool.Pool
}

// Open connects, runs pending migrations, and returns the store.
func Open(ctx context.Context, dsn string) (*PG, error) {
	if err := migrate(dsn); err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &PG{pool: pool}, nil
}

func migrate(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("store: open for migrations: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("store: set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func (s *PG) SaveSession(ctx context.Context, rec SessionRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, started_at) VALUES ($1, $2)`,
		rec.ID, rec.StartedAt)
	if err != nil {
		return fmt.Errorf("store: save session: %w", err)
	}
	return nil
}

func (s *PG) FinishSession(ctx context.Context, id string, endedAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE sessions SET ended_at = $2 WHERE id = $1`,
		id, endedAt)
	if err != nil {
		return fmt.Errorf("store: finish session: %w", err)
	}
	return nil
}

func (s *PG) SaveCooking(ctx context.Context, rec CookingRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cookings (session_id, recipe_id, ingredients, duration_seconds, created_at)
		 VALUES ($1, NULLIF($2, ''), $3, $4, $5)`,
		rec.SessionID, rec.RecipeID, rec.Ingredients, rec.DurationSeconds, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: save cooking: %w", err)
	}
	return nil
}

func (s *PG) CookingCount(ctx context.Context, recipeID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM cookings WHERE recipe_id = $1`, recipeID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: cooking count: %w", err)
	}
	return n, nil
}

func (s *PG) Close() {
	s.pool.Close()
}
