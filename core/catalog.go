package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/signalsfoundry/orbit-tracker/internal/logging"
	"github.com/signalsfoundry/orbit-tracker/model"
)

// CatalogEntry is one tracked object with its initialised orbit state.
// Index is the entry's position in the catalog and doubles as the marker
// index; FeedIndex is the record's position in the parsed feed.
type CatalogEntry struct {
	Index     int
	FeedIndex int
	Record    model.ElementRecord
	State     OrbitState
}

// Name returns the record label.
func (e CatalogEntry) Name() string { return e.Record.Name }

// Catalog is the fixed, ordered set of objects tracked for a session.
// It is built once and never mutated.
type Catalog struct {
	prop    Propagator
	entries []CatalogEntry
}

// FailureRecorder is notified about per-object propagation failures.
// stage is "init", "sample" or "orbit".
type FailureRecorder interface {
	IncPropagationFailure(stage string)
}

// CatalogOptions tunes catalog construction.
type CatalogOptions struct {
	Logger  logging.Logger
	Metrics FailureRecorder
}

// NewCatalog initialises an orbit state for every record. Records the
// propagator rejects are dropped and logged; the relative order of the
// survivors is kept.
func NewCatalog(prop Propagator, records []model.ElementRecord, opts CatalogOptions) (*Catalog, error) {
	if prop == nil {
		return nil, errors.New("catalog requires a propagator")
	}
	log := opts.Logger
	if log == nil {
		log = logging.Noop()
	}

	entries := make([]CatalogEntry, 0, len(records))
	for i, rec := range records {
		state, err := safeInit(prop, rec)
		if err != nil {
			log.Warn(context.Background(), "dropping element record",
				logging.Int("feed_index", i),
				logging.String("name", rec.Name),
				logging.Err(err),
			)
			if opts.Metrics != nil {
				opts.Metrics.IncPropagationFailure("init")
			}
			continue
		}
		entries = append(entries, CatalogEntry{
			Index:     len(entries),
			FeedIndex: i,
			Record:    rec,
			State:     state,
		})
	}
	return &Catalog{prop: prop, entries: entries}, nil
}

// Propagator returns the propagator the catalog was built with.
func (c *Catalog) Propagator() Propagator { return c.prop }

// Len returns the number of tracked objects.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// Entry returns the entry at index i.
func (c *Catalog) Entry(i int) (CatalogEntry, bool) {
	if c == nil || i < 0 || i >= len(c.entries) {
		return CatalogEntry{}, false
	}
	return c.entries[i], true
}

// Entries returns a copy of the entries in catalog order.
func (c *Catalog) Entries() []CatalogEntry {
	if c == nil {
		return nil
	}
	return append([]CatalogEntry(nil), c.entries...)
}

// Retain returns a new catalog holding only the entries for which keep
// returns true, renumbered from zero.
func (c *Catalog) Retain(keep func(CatalogEntry) bool) *Catalog {
	out := &Catalog{prop: c.prop, entries: make([]CatalogEntry, 0, len(c.entries))}
	for _, e := range c.entries {
		if !keep(e) {
			continue
		}
		e.Index = len(out.entries)
		out.entries = append(out.entries, e)
	}
	return out
}

func safeInit(prop Propagator, rec model.ElementRecord) (state OrbitState, err error) {
	defer func() {
		if r := recover(); r != nil {
			state = nil
			err = fmt.Errorf("%w: %v", ErrInvalidElements, r)
		}
	}()
	return prop.InitState(rec.Line1, rec.Line2)
}
