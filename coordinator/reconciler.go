package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flowlend/lending-coordinator-go/catalogstore"
	"github.com/flowlend/lending-coordinator-go/lending"
)

const (
	defaultSyncInterval = 500 * time.Millisecond
	defaultTickInterval = 100 * time.Millisecond
	defaultErrorBackoff = 1 * time.Second
	defaultEventBuffer  = 16

	fmtGranted = "you were just granted %q"
)

// ChangeEvent reports one observed difference between two catalog syncs.
type ChangeEvent struct {
	ItemID       string
	Title        string
	Available    bool
	Borrower     string
	QueueMembers []string
	Removed      bool

	// GrantedToUser is set when the item's new borrower is the session user
	// and differs from the previously observed borrower. Message then carries
	// the direct notification text.
	GrantedToUser bool
	Message       string
}

// ReconcilerConfig tunes the reconciliation loop. Zero values fall back to
// the defaults.
type ReconcilerConfig struct {
	// SyncInterval is how long the loop lets the view age before
	// re-synchronizing unconditionally.
	SyncInterval time.Duration

	// TickInterval is the cadence between checks; it bounds how quickly a
	// raised dirty signal is noticed.
	TickInterval time.Duration

	// ErrorBackoff is the pause after a failed sync before the loop resumes.
	ErrorBackoff time.Duration

	// EventBuffer is the capacity of the change-event channel. Events beyond
	// a full buffer are dropped; the catalog state itself is never affected.
	EventBuffer int

	Logger catalogstore.Logger
}

func (cfg ReconcilerConfig) withDefaults() ReconcilerConfig {
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = defaultSyncInterval
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = defaultErrorBackoff
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	return cfg
}

// itemObservation is the per-item slice of state the loop diffs between
// syncs.
type itemObservation struct {
	title        string
	available    bool
	borrower     string
	queueMembers []string
}

// Reconciler is the per-client background loop that re-synchronizes the
// local view against the store, promptly when the dirty signal is raised and
// periodically otherwise. It holds only an ephemeral snapshot, rebuilt from
// scratch on every start.
type Reconciler struct {
	store    catalogstore.Store
	notifier *ChangeNotifier
	user     lending.UserIDString
	cfg      ReconcilerConfig
	events   chan ChangeEvent

	snapshot map[string]itemObservation
	primed   bool
}

// NewReconciler creates a reconciliation loop for the given session user.
// The notifier must be the one the session's catalog raises.
func NewReconciler(store catalogstore.Store, notifier *ChangeNotifier, user lending.UserIDString, cfg ReconcilerConfig) (*Reconciler, error) {
	if store == nil {
		return nil, errors.New("store must not be nil")
	}
	if notifier == nil {
		return nil, errors.New("notifier must not be nil")
	}

	cfg = cfg.withDefaults()

	return &Reconciler{
		store:    store,
		notifier: notifier,
		user:     user,
		cfg:      cfg,
		events:   make(chan ChangeEvent, cfg.EventBuffer),
		snapshot: make(map[string]itemObservation),
	}, nil
}

// Events returns the channel change events are delivered on. Delivery is
// best-effort: a slow consumer loses events, never catalog state.
func (r *Reconciler) Events() <-chan ChangeEvent {
	return r.events
}

// Run executes the loop until the context is canceled. Transient store
// failures are logged and followed by a backoff; they never terminate the
// loop.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()

	var lastSync time.Time

	// Prime the snapshot immediately so the first observed delta is a real
	// change, not the whole catalog.
	if err := r.sync(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.logSyncFailure(err)
		if err := r.backoff(ctx); err != nil {
			return err
		}
	} else {
		lastSync = time.Now()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-r.notifier.Dirty():

		case <-ticker.C:
			if time.Since(lastSync) < r.cfg.SyncInterval {
				continue
			}
		}

		if err := r.sync(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logSyncFailure(err)
			if err := r.backoff(ctx); err != nil {
				return err
			}
			continue
		}

		lastSync = time.Now()
	}
}

// sync reads the latest committed catalog, emits change events for every
// difference against the last observation, and replaces the snapshot
// wholesale.
func (r *Reconciler) sync(ctx context.Context) error {
	snapshot, err := r.store.ReadAll(ctx)
	if err != nil {
		return err
	}

	observed := make(map[string]itemObservation, len(snapshot.Items))

	for _, stored := range snapshot.Items {
		item, convErr := stored.Doc.ToItem()
		if convErr != nil {
			return convErr
		}

		observed[item.ID] = itemObservation{
			title:        item.Title,
			available:    item.Available,
			borrower:     item.Borrower,
			queueMembers: item.Queue.Members(),
		}
	}

	if r.primed {
		r.emitChanges(observed)
	}

	r.snapshot = observed
	r.primed = true

	return nil
}

func (r *Reconciler) emitChanges(observed map[string]itemObservation) {
	for id, now := range observed {
		before, seen := r.snapshot[id]
		if seen && observationsEqual(before, now) {
			continue
		}

		event := ChangeEvent{
			ItemID:       id,
			Title:        now.title,
			Available:    now.available,
			Borrower:     now.borrower,
			QueueMembers: now.queueMembers,
		}

		if now.borrower == string(r.user) && now.borrower != before.borrower {
			event.GrantedToUser = true
			event.Message = fmt.Sprintf(fmtGranted, now.title)
		}

		r.emit(event)
	}

	for id, before := range r.snapshot {
		if _, still := observed[id]; !still {
			r.emit(ChangeEvent{ItemID: id, Title: before.title, Removed: true})
		}
	}
}

func (r *Reconciler) emit(event ChangeEvent) {
	select {
	case r.events <- event:
	default:
	}
}

func (r *Reconciler) backoff(ctx context.Context) error {
	select {
	case <-time.After(r.cfg.ErrorBackoff):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reconciler) logSyncFailure(err error) {
	if r.cfg.Logger != nil {
		r.cfg.Logger.Warn("catalog sync failed", "error", err.Error())
	}
}

func observationsEqual(a itemObservation, b itemObservation) bool {
	if a.title != b.title || a.available != b.available || a.borrower != b.borrower {
		return false
	}
	if len(a.queueMembers) != len(b.queueMembers) {
		return false
	}
	for i := range a.queueMembers {
		if a.queueMembers[i] != b.queueMembers[i] {
			return false
		}
	}
	return true
}
