// Copyright 2025 Joseph Cumines
//
// Handle tables and the per-explorer context store

package explorer

import (
	"fmt"
	"strings"

	"github.com/joeycumines/axplorer/internal/ax"
)

// Context names the namespace a snapshot's handle table is stored under.
type Context string

// Snapshot contexts.
const (
	App     Context = "App"
	Main    Context = "Main"
	Focused Context = "Focused"
	Menu    Context = "Menu"
	Query   Context = "Query"
)

// Contexts lists every context in a stable order.
var Contexts = []Context{App, Main, Focused, Menu, Query}

var contextAliases = map[string]Context{
	"app":           App,
	"application":   App,
	"main":          Main,
	"mainwindow":    Main,
	"focused":       Focused,
	"focusedwindow": Focused,
	"menu":          Menu,
	"menubar":       Menu,
	"query":         Query,
	"queryresult":   Query,
}

// ParseContext accepts a context name case-insensitively, including the long
// aliases Application, MainWindow, FocusedWindow, MenuBar and QueryResult.
func ParseContext(s string) (Context, error) {
	key := strings.ToLower(strings.NewReplacer("_", "", "-", "", " ", "").Replace(s))
	if c, ok := contextAliases[key]; ok {
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownContext, s)
}

// HandleTable maps the IDs issued by one traversal to the references they
// were issued for.
type HandleTable map[int]ax.Ref

// ContextStore keeps one handle table per context. Storing a table replaces
// the previous one for that context wholesale.
//
// IDs are only unique within one traversal, and tables carry no generation:
// an ID from a superseded snapshot may miss, or may resolve to an unrelated
// element of the newer snapshot. Callers must treat IDs as valid only until
// the next snapshot on the same context.
//
// A ContextStore is not safe for concurrent use.
type ContextStore struct {
	tables map[Context]HandleTable
}

// Store replaces the table for c, returning the one it replaced.
func (s *ContextStore) Store(c Context, table HandleTable) HandleTable {
	if s.tables == nil {
		s.tables = make(map[Context]HandleTable, len(Contexts))
	}
	prev := s.tables[c]
	s.tables[c] = table
	return prev
}

// Resolve looks up id in the most recent table stored for c.
func (s *ContextStore) Resolve(c Context, id int) (ax.Ref, bool) {
	ref, ok := s.tables[c][id]
	return ref, ok && ref != nil
}

// Len returns the number of IDs resolvable under c.
func (s *ContextStore) Len(c Context) int {
	return len(s.tables[c])
}

// held returns the set of references any stored table holds.
func (s *ContextStore) held() map[ax.Ref]struct{} {
	out := make(map[ax.Ref]struct{})
	for _, t := range s.tables {
		for _, r := range t {
			out[r] = struct{}{}
		}
	}
	return out
}

// Clear drops every table, returning them.
func (s *ContextStore) Clear() []HandleTable {
	out := make([]HandleTable, 0, len(s.tables))
	for _, c := range Contexts {
		if t, ok := s.tables[c]; ok {
			out = append(out, t)
		}
	}
	s.tables = nil
	return out
}
