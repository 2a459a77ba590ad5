// Copyright 2025 Joseph Cumines
//
// Package explorer implements the snapshot and query engine: it walks an
// application's accessibility graph into a document, remembers which element
// every issued ID stands for, and later dispatches actions to those elements.
//
// An Explorer is bound to one application and is not safe for concurrent
// use; callers serialize access to each instance.

package explorer

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joeycumines/axplorer/internal/ax"
	"github.com/joeycumines/axplorer/internal/document"
	"github.com/joeycumines/axplorer/internal/logging"
)

var (
	// ErrUnknownContext is returned for an unrecognized context name.
	ErrUnknownContext = errors.New("unknown context")

	// ErrNoRoot is returned when a context has no root element to snapshot,
	// e.g. an application without a main window, or the Query context.
	ErrNoRoot = errors.New("context has no root element")

	// ErrUnknownID is returned when an ID is not in the context's table.
	ErrUnknownID = errors.New("unknown element id")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("explorer closed")
)

// rootAttributes names the application attribute each window-level context
// starts from.
var rootAttributes = map[Context]string{
	Main:    ax.AttrMainWindow,
	Focused: ax.AttrFocusedWindow,
	Menu:    ax.AttrMenuBar,
}

// Observer receives the outcome of every completed traversal.
type Observer func(c Context, stats Stats, elapsed time.Duration)

// Option configures an Explorer.
type Option func(*Explorer)

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Explorer) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithObserver registers a callback invoked after every traversal.
func WithObserver(fn Observer) Option {
	return func(e *Explorer) {
		e.observer = fn
	}
}

// Explorer owns the handle tables for one application.
type Explorer struct {
	adapter  ax.Adapter
	app      ax.Ref
	logger   *slog.Logger
	observer Observer
	store    ContextStore
	name     string
	closed   bool
}

// New acquires the root element of the named application. It fails with an
// error wrapping ax.ErrNotFound when no such application is running.
func New(adapter ax.Adapter, appName string, opts ...Option) (*Explorer, error) {
	e := &Explorer{
		adapter: adapter,
		name:    appName,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("application", appName)

	app, err := adapter.Application(appName)
	if err != nil {
		return nil, fmt.Errorf("failed to open application %q: %w", appName, err)
	}
	if app == nil {
		return nil, fmt.Errorf("failed to open application %q: %w", appName, ax.ErrNotFound)
	}
	e.app = app

	return e, nil
}

// Name returns the application name the explorer was created for.
func (e *Explorer) Name() string {
	return e.name
}

// Snapshot walks the root element of context c and returns its YAML
// rendering. The context's handle table is replaced by the new one.
func (e *Explorer) Snapshot(c Context, maxDepth int) (string, error) {
	if e.closed {
		return "", ErrClosed
	}
	root, err := e.root(c)
	if err != nil {
		return "", err
	}
	return e.capture(c, root, maxDepth)
}

// SnapshotAt walks the element under a screen coordinate into the Query
// context.
func (e *Explorer) SnapshotAt(x, y float64, maxDepth int) (string, error) {
	if e.closed {
		return "", ErrClosed
	}
	ref, err := e.adapter.ElementAtPosition(e.app, x, y)
	if err != nil {
		return "", fmt.Errorf("no element at (%g, %g): %w", x, y, err)
	}
	if ref == nil {
		return "", fmt.Errorf("no element at (%g, %g): %w", x, y, ax.ErrNotFound)
	}
	return e.capture(Query, ref, maxDepth)
}

// ResolveAndSnapshot walks a previously issued element into the Query
// context, enabling iterative drill-down.
func (e *Explorer) ResolveAndSnapshot(c Context, id, maxDepth int) (string, error) {
	ref, err := e.Resolve(c, id)
	if err != nil {
		return "", err
	}
	return e.capture(Query, ref, maxDepth)
}

// Resolve returns the element issued as id by the latest snapshot of c. An
// id from an older snapshot of c may resolve to an unrelated element.
func (e *Explorer) Resolve(c Context, id int) (ax.Ref, error) {
	if e.closed {
		return nil, ErrClosed
	}
	ref, ok := e.store.Resolve(c, id)
	if !ok {
		return nil, fmt.Errorf("%w: %d in context %s", ErrUnknownID, id, c)
	}
	return ref, nil
}

// PerformAction dispatches an action to a previously issued element.
func (e *Explorer) PerformAction(c Context, id int, action string) error {
	ref, err := e.Resolve(c, id)
	if err != nil {
		return err
	}
	if err := e.adapter.PerformAction(ref, action); err != nil {
		return fmt.Errorf("action %s on element %d: %w", action, id, err)
	}
	e.logger.Debug("performed action", "context", c, "id", id, "action", action)
	return nil
}

// SetAttribute writes a string, bool or float64 value to an attribute of a
// previously issued element.
func (e *Explorer) SetAttribute(c Context, id int, name string, value any) error {
	if err := ax.CheckSettable(value); err != nil {
		return err
	}
	ref, err := e.Resolve(c, id)
	if err != nil {
		return err
	}
	if err := e.adapter.SetAttributeValue(ref, name, value); err != nil {
		return fmt.Errorf("set %s on element %d: %w", name, id, err)
	}
	e.logger.Debug("set attribute", "context", c, "id", id, "attribute", name)
	return nil
}

// Close drops every handle table. It does not affect the application.
func (e *Explorer) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true

	var refs []ax.Ref
	for _, t := range e.store.Clear() {
		for _, r := range t {
			refs = append(refs, r)
		}
	}
	refs = append(refs, e.app)
	e.release(refs)
	e.app = nil
	return nil
}

func (e *Explorer) root(c Context) (ax.Ref, error) {
	switch c {
	case App:
		return e.app, nil
	case Query:
		return nil, fmt.Errorf("%w: %s is only written by element queries", ErrNoRoot, c)
	}

	attr, ok := rootAttributes[c]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownContext, c)
	}
	raw, err := e.adapter.AttributeValue(e.app, attr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNoRoot, c, err)
	}
	ref, ok := raw.(ax.Ref)
	if !ok || ref == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoRoot, c)
	}
	return ref, nil
}

func (e *Explorer) capture(c Context, root ax.Ref, maxDepth int) (string, error) {
	start := time.Now()
	tr := walk(e.adapter, root, maxDepth, e.logger)
	elapsed := time.Since(start)

	prev := e.store.Store(c, tr.table)
	e.releaseUnheld(tr.seen, prev)

	e.logger.Debug("snapshot",
		"context", c,
		"max_depth", maxDepth,
		"nodes", tr.stats.Nodes,
		"attribute_reads", tr.stats.AttributeReads,
		"truncated", tr.stats.Truncated,
		"revisits", tr.stats.Revisits,
		"elapsed", elapsed,
	)
	if e.observer != nil {
		e.observer(c, tr.stats, elapsed)
	}

	node := tr.root
	if node == nil {
		return "", fmt.Errorf("snapshot of %s: %w", c, ax.ErrNotFound)
	}
	out, err := document.Marshal(node.Document())
	if err != nil {
		return "", fmt.Errorf("snapshot of %s: %w", c, err)
	}
	return out, nil
}

// releaseUnheld hands back to the adapter the references no table holds any
// more: those seen by the latest walk but not issued an ID, and those of the
// replaced table.
func (e *Explorer) releaseUnheld(seen map[ax.Ref]struct{}, prev HandleTable) {
	if _, ok := e.adapter.(ax.Releaser); !ok {
		return
	}
	held := e.store.held()
	held[e.app] = struct{}{}
	var refs []ax.Ref
	for r := range seen {
		if _, ok := held[r]; !ok {
			refs = append(refs, r)
		}
	}
	for _, r := range prev {
		if _, dup := seen[r]; dup {
			continue
		}
		if _, ok := held[r]; !ok {
			refs = append(refs, r)
		}
	}
	e.release(refs)
}

func (e *Explorer) release(refs []ax.Ref) {
	if len(refs) == 0 {
		return
	}
	if r, ok := e.adapter.(ax.Releaser); ok {
		r.Release(refs...)
	}
}
