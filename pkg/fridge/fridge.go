// Package fridge tracks the ingredients observed during one cooking
// session. Detection events upsert items; the snapshot feeds the client
// UI and whatever recipe logic sits outside this service.
package fridge

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JadenChoi2k/realtime-cooking-mama/pkg/detect"
)

// Item is one ingredient the session has seen.
type Item struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Confidence float64       `json:"confidence"`
	Source     detect.Source `json:"source"`
	FirstSeen  time.Time     `json:"first_seen"`
	LastSeen   time.Time     `json:"last_seen"`
}

// Fridge is safe for concurrent use: the detection loop observes while
// the session loop serves snapshot and remove commands.
type Fridge struct {
	mu    sync.Mutex
	items map[string]*Item // keyed by normalized name
	now   func() time.Time
}

func New(now func() time.Time) *Fridge {
	return &Fridge{items: make(map[string]*Item), now: now}
}

// Observe folds a detection event into the fridge and reports whether
// the item set changed (items added). Labels are case-normalized.
// A primary sighting always refreshes confidence; a fallback sighting
// never degrades an item the primary model already scored higher.
func (f *Fridge) Observe(ev detect.Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	changed := false
	for _, obs := range ev.Observations {
		name := strings.ToLower(strings.TrimSpace(obs.Label))
		if name == "" {
			continue
		}
		it, ok := f.items[name]
		if !ok {
			f.items[name] = &Item{
				ID:         uuid.NewString(),
				Name:       name,
				Confidence: obs.Confidence,
				Source:     ev.Source,
				FirstSeen:  now,
				LastSeen:   now,
			}
			changed = true
			continue
		}
		it.LastSeen = now
		if ev.Source == detect.SourcePrimary || obs.Confidence > it.Confidence {
			it.Confidence = obs.Confidence
			it.Source = ev.Source
		}
	}
	return changed
}

// Items returns a snapshot sorted by name. The copies are detached;
// callers may iterate while the fridge keeps changing.
func (f *Fridge) Items() []Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Item, 0, len(f.items))
	for _, it := range f.items {
		out = append(out, *it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Remove deletes the item with the given id and reports whether it
// existed.
func (f *Fridge) Remove(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for name, it := range f.items {
		if it.ID == id {
			delete(f.items, name)
			return true
		}
	}
	return false
}

// Reset empties the fridge.
func (f *Fridge) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = make(map[string]*Item)
}

func (f *Fridge) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

// Names returns the sorted ingredient names, the shape the history
// store persists.
func (f *Fridge) Names() []string {
	items := f.Items()
	names := make([]string, len(items))
	for i, it := range items {
		names[i] = it.Name
	}
	return names
}
