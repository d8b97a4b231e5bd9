// Package abuse tracks misbehaving remote addresses and shuns them once
// they cross a threshold of flagged requests within a sliding window.
// The original zero-byte-marker-file shunning convention (spec §7,
// "abuse heuristic" out-of-scope collaborator) is replaced outright with
// an in-memory counter per SPEC_FULL.md §5.2 — there is no durable
// shun-list file and no Open Question left over it.
package abuse

import (
	"sync"
	"time"
)

// Tracker records flagged-request timestamps per remote address and
// decides whether an address is currently shunned.
type Tracker struct {
	mu        sync.Mutex
	window    time.Duration
	threshold int
	banTTL    time.Duration
	hits      map[string][]time.Time
	banned    map[string]time.Time
}

// New returns a Tracker that shuns an address once it accrues threshold
// flagged requests within window, for banTTL.
func New(window time.Duration, threshold int, banTTL time.Duration) *Tracker {
	return &Tracker{
		window:    window,
		threshold: threshold,
		banTTL:    banTTL,
		hits:      make(map[string][]time.Time),
		banned:    make(map[string]time.Time),
	}
}

// Flag records one abuse-heuristic hit (spec §7: "if the URI matches the
// abuse heuristic, mark the remote IP for shunning before responding")
// against addr at time now, and reports whether addr is now banned.
func (t *Tracker) Flag(addr string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := now.Add(-t.window)
	hits := t.hits[addr]
	kept := hits[:0]
	for _, ts := range hits {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)
	t.hits[addr] = kept

	if len(kept) >= t.threshold {
		t.banned[addr] = now.Add(t.banTTL)
		delete(t.hits, addr)
		return true
	}
	return false
}

// Shunned reports whether addr is currently banned as of now.
func (t *Tracker) Shunned(addr string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	until, ok := t.banned[addr]
	if !ok {
		return false
	}
	if now.After(until) {
		delete(t.banned, addr)
		return false
	}
	return true
}

// Forget clears all recorded state for addr, letting a previously
// flagged-but-not-banned address start clean.
func (t *Tracker) Forget(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.hits, addr)
	delete(t.banned, addr)
}
