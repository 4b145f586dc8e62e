// CLAUDE:SUMMARY Change detector: classifies an observation against the stored two-slot watch state and rotates the slots atomically.
// Package detect decides whether a watched region changed and owns the
// two-slot (previous/current) state persisted between runs.
//
// Decide is pure. Detector.Apply pairs it with Commit so the rotated state
// is durably written, in one transaction, before the decision is returned.
package detect

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazyhaar/contentcheck/contentcheck/internal/kvstore"
)

// Persisted record names. They are the durable contract with existing stores.
const (
	KeyCurrentData        = "currentData"
	KeyPreviousData       = "previousData"
	KeyCurrentScreenshot  = "currentScreenshot.png"
	KeyPreviousScreenshot = "previousScreenshot.png"
	KeyFullPageScreenshot = "fullpageScreenshot.png"
)

// Observation is what one successful capture produced.
type Observation struct {
	Text  string
	Image []byte
}

// Snapshot is one persisted slot. Text is nil when the slot's data record
// is missing, which only happens for state written by older runs.
type Snapshot struct {
	Text  *string
	Image []byte
}

// TextOrEmpty returns the slot text, "" when absent.
func (s Snapshot) TextOrEmpty() string {
	if s.Text == nil {
		return ""
	}
	return *s.Text
}

func snapshotOf(o Observation) *Snapshot {
	text := o.Text
	return &Snapshot{Text: &text, Image: o.Image}
}

// State is the two-slot record of one watch. A nil slot is absent, which is
// distinct from a slot holding an empty string.
type State struct {
	Previous *Snapshot
	Current  *Snapshot
}

// Kind tags a Decision.
type Kind int

const (
	FirstRun Kind = iota
	Unchanged
	Changed
)

func (k Kind) String() string {
	switch k {
	case FirstRun:
		return "first_run"
	case Unchanged:
		return "unchanged"
	case Changed:
		return "changed"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Decision is the outcome of one comparison. Previous and Current are set
// only for Changed: the slot stored before this run and the new capture.
type Decision struct {
	Kind     Kind
	Previous Snapshot
	Current  Snapshot
}

// Decide classifies obs against prior and returns the state to persist.
//
//   - no prior current slot: FirstRun, next = {nil, obs}
//   - byte-equal text: Unchanged, next = {prior.Current, obs}
//   - otherwise: Changed, next = {prior.Current, obs}
//
// Text is compared exactly: whitespace and case differences count.
func Decide(prior State, obs Observation) (Decision, State) {
	cur := snapshotOf(obs)
	if prior.Current == nil {
		return Decision{Kind: FirstRun}, State{Current: cur}
	}

	next := State{Previous: prior.Current, Current: cur}
	if prior.Current.Text != nil && *prior.Current.Text == obs.Text {
		return Decision{Kind: Unchanged}, next
	}
	return Decision{Kind: Changed, Previous: *prior.Current, Current: *cur}, next
}

// Store is the slice of kvstore.Store the detector uses.
type Store interface {
	Get(ctx context.Context, key string) (kvstore.Record, error)
	Batch() *kvstore.Batch
}

// Load reads the persisted state. A slot is present when its data or its
// screenshot record exists.
func Load(ctx context.Context, st Store) (State, error) {
	cur, err := loadSlot(ctx, st, KeyCurrentData, KeyCurrentScreenshot)
	if err != nil {
		return State{}, err
	}
	prev, err := loadSlot(ctx, st, KeyPreviousData, KeyPreviousScreenshot)
	if err != nil {
		return State{}, err
	}
	return State{Previous: prev, Current: cur}, nil
}

func loadSlot(ctx context.Context, st Store, dataKey, imageKey string) (*Snapshot, error) {
	var snap Snapshot
	found := false

	rec, err := st.Get(ctx, dataKey)
	switch {
	case err == nil:
		text := string(rec.Value)
		snap.Text = &text
		found = true
	case !errors.Is(err, kvstore.ErrNotFound):
		return nil, fmt.Errorf("detect: load %s: %w", dataKey, err)
	}

	rec, err = st.Get(ctx, imageKey)
	switch {
	case err == nil:
		snap.Image = rec.Value
		found = true
	case !errors.Is(err, kvstore.ErrNotFound):
		return nil, fmt.Errorf("detect: load %s: %w", imageKey, err)
	}

	if !found {
		return nil, nil
	}
	return &snap, nil
}

// Commit writes both slots of next in one batch. Absent slots and nil
// fields delete their records inside the same batch.
func Commit(ctx context.Context, st Store, next State) error {
	b := st.Batch()
	putSlot(b, next.Current, KeyCurrentData, KeyCurrentScreenshot)
	putSlot(b, next.Previous, KeyPreviousData, KeyPreviousScreenshot)
	if err := b.Commit(ctx); err != nil {
		return fmt.Errorf("detect: commit state: %w", err)
	}
	return nil
}

func putSlot(b *kvstore.Batch, s *Snapshot, dataKey, imageKey string) {
	if s == nil {
		b.Delete(dataKey).Delete(imageKey)
		return
	}
	if s.Text != nil {
		b.Put(dataKey, []byte(*s.Text), kvstore.ContentTypeText)
	} else {
		b.Delete(dataKey)
	}
	if s.Image != nil {
		b.Put(imageKey, s.Image, kvstore.ContentTypePNG)
	} else {
		b.Delete(imageKey)
	}
}

// Detector binds Decide to a store.
type Detector struct {
	store Store
}

// New creates a Detector over st.
func New(st Store) *Detector {
	return &Detector{store: st}
}

// Load reads the current persisted state.
func (d *Detector) Load(ctx context.Context) (State, error) {
	return Load(ctx, d.store)
}

// Apply classifies obs against prior and persists the rotated state before
// returning. On a commit error the decision is discarded.
func (d *Detector) Apply(ctx context.Context, prior State, obs Observation) (Decision, error) {
	dec, next := Decide(prior, obs)
	if err := Commit(ctx, d.store, next); err != nil {
		return Decision{}, err
	}
	return dec, nil
}
