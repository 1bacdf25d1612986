// CLAUDE:SUMMARY Open-world sessions — shared-world membership, finalize fan-out, cross-session aggregation
package engine

import (
	"sort"
	"strings"
	"time"
)

var defaultWorldTags = []string{"mystery", "family", "thriller"}

// World groups sessions under a shared theme. Members join at session start
// and are finalized together by FinalizeWorld.
type World struct {
	ID        string        `json:"world_id"`
	Theme     string        `json:"theme"`
	Tags      []string      `json:"tags"`
	Members   []string      `json:"members"`
	CreatedAt time.Time     `json:"created_at"`
	Summary   *WorldSummary `json:"summary,omitempty"`
}

// WorldModeStats is the per-trust-mode slice of a world summary.
type WorldModeStats struct {
	Sessions int `json:"sessions"`
	Turns    int `json:"turns"`
	Clears   int `json:"clears"`
}

// WorldSummary aggregates every member session's terminal state. Computed
// once; repeated finalizes return it unchanged.
type WorldSummary struct {
	WorldID       string                  `json:"world_id"`
	Theme         string                  `json:"theme"`
	Sessions      int                     `json:"sessions"`
	Turns         int                     `json:"turns"`
	Clears        int                     `json:"clears"`
	TruthUnlocked int                     `json:"truth_unlocked"`
	ByMode        map[Mode]WorldModeStats `json:"by_mode"`
	Endings       map[string]int          `json:"endings"`
	FinalizedAt   time.Time               `json:"finalized_at"`
}

// normalizeTags lowercases and trims, dropping empties and duplicates.
// Empty input falls back to the stock tag set.
func normalizeTags(tags []string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	if len(out) == 0 {
		return append([]string(nil), defaultWorldTags...)
	}
	sort.Strings(out)
	return out
}

// StartWorld opens a shared world. Sessions join by passing the returned
// world id to StartSession.
func (e *Engine) StartWorld(theme string, tags []string) (*World, error) {
	theme = strings.TrimSpace(theme)
	if theme == "" {
		theme = "hide-sis"
	}
	w := &World{
		ID:        "wld_" + e.newID(),
		Theme:     theme,
		Tags:      normalizeTags(tags),
		CreatedAt: e.now().UTC(),
	}

	e.mu.Lock()
	e.worlds[w.ID] = &worldEntry{w: w}
	e.mu.Unlock()

	e.persistWorld(w)
	return w, nil
}

// GetWorld returns the live world state.
func (e *Engine) GetWorld(worldID string) (*World, error) {
	e.mu.Lock()
	we, ok := e.worlds[worldID]
	e.mu.Unlock()
	if !ok {
		return nil, ErrWorldNotFound
	}
	we.mu.Lock()
	defer we.mu.Unlock()
	return we.w, nil
}

// FinalizeWorld finalizes every member session still active and folds all
// member summaries into one aggregate. A world with no members cannot be
// finalized. Idempotent on repeat calls.
//
// Lock order is world then session; sessions never take world locks, so the
// fan-out cannot deadlock.
func (e *Engine) FinalizeWorld(worldID string) (*WorldSummary, error) {
	e.mu.Lock()
	we, ok := e.worlds[worldID]
	e.mu.Unlock()
	if !ok {
		return nil, ErrWorldNotFound
	}

	we.mu.Lock()
	defer we.mu.Unlock()

	w := we.w
	if w.Summary != nil {
		return w.Summary, nil
	}
	if len(w.Members) == 0 {
		return nil, ErrWorldNotFound
	}

	sum := &WorldSummary{
		WorldID: w.ID,
		Theme:   w.Theme,
		ByMode:  make(map[Mode]WorldModeStats),
		Endings: make(map[string]int),
	}
	for _, sid := range w.Members {
		entry, err := e.entry(sid)
		if err != nil {
			continue
		}
		entry.mu.Lock()
		ss := e.finalizeLocked(entry.s)
		entry.mu.Unlock()

		sum.Sessions++
		sum.Turns += ss.Turns
		sum.Clears += ss.Clears
		if ss.TruthUnlocked {
			sum.TruthUnlocked++
		}
		ms := sum.ByMode[ss.Mode]
		ms.Sessions++
		ms.Turns += ss.Turns
		ms.Clears += ss.Clears
		sum.ByMode[ss.Mode] = ms
		sum.Endings[ss.EndingLabel]++
	}
	sum.FinalizedAt = e.now().UTC()

	w.Summary = sum
	e.persistWorld(w)
	return sum, nil
}
