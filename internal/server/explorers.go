// Copyright 2025 Joseph Cumines
//
// Registry of open explorers

package server

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/joeycumines/axplorer/internal/explorer"
)

var errUnknownExplorer = errors.New("unknown explorer")

// explorerEntry serializes access to one explorer, which is not safe for
// concurrent use.
type explorerEntry struct {
	explorer *explorer.Explorer
	opened   time.Time
	id       string
	app      string
	seq      int
	mu       sync.Mutex
}

// registry holds the explorers opened through the tool interface.
type registry struct {
	entries map[string]*explorerEntry
	next    int
	mu      sync.Mutex
}

func newRegistry() *registry {
	return &registry{entries: make(map[string]*explorerEntry)}
}

// add registers e under the next id.
func (r *registry) add(app string, e *explorer.Explorer) *explorerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	entry := &explorerEntry{
		explorer: e,
		opened:   time.Now(),
		id:       "ex" + strconv.Itoa(r.next),
		app:      app,
		seq:      r.next,
	}
	r.entries[entry.id] = entry
	return entry
}

func (r *registry) get(id string) (*explorerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errUnknownExplorer, id)
	}
	return entry, nil
}

// remove unregisters and closes an explorer.
func (r *registry) remove(id string) (*explorerEntry, error) {
	r.mu.Lock()
	entry, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", errUnknownExplorer, id)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry, entry.explorer.Close()
}

// list returns the open explorers ordered by id number.
func (r *registry) list() []*explorerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*explorerEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b *explorerEntry) int {
		return a.seq - b.seq
	})
	return out
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// closeAll closes every explorer, returning the joined errors.
func (r *registry) closeAll() error {
	r.mu.Lock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if _, err := r.remove(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// with runs fn holding the explorer's lock.
func (r *registry) with(id string, fn func(*explorer.Explorer) error) error {
	entry, err := r.get(id)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return fn(entry.explorer)
}
