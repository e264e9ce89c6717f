// Package store persists session and cooking history. The live path
// never depends on it being real: without a configured database the
// no-op store is used and history is simply not kept.
package store

import (
	"context"
	"time"
)

// SessionRecord is one live session's lifetime row.
type SessionRecord struct {
	ID        string
	StartedAt time.Time
}

// CookingRecord summarizes a finished session: what was in the fridge
// and how long the session ran. RecipeID is optional; recipe matching
// happens outside this service.
type CookingRecord struct {
	SessionID       string
	RecipeID        string
	Ingredients     []string
	DurationSeconds int
	CreatedAt       time.Time
}

type Store interface {
	SaveSession(ctx context.Context, rec SessionRecord) error
	FinishSession(ctx context.Context, id string, endedAt time.Time) error
	SaveCooking(ctx context.Context, rec CookingRecord) error
	CookingCount(ctx context.Context, recipeID string) (int, error)
	Close()
}

// Nop satisfies Store without persisting anything.
type Nop struct{}

func (Nop) SaveSession(context.Context, SessionRecord) error       { return nil }
func (Nop) FinishSession(context.Context, string, time.Time) error { return nil }
func (Nop) SaveCooking(context.Context, CookingRecord) error       { return nil }
func (Nop) CookingCount(context.Context, string) (int, error)      { return 0, nil }

func (Nop) Close() {}
