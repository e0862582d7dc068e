package coordinator

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/flowlend/lending-coordinator-go/catalogstore"
	"github.com/flowlend/lending-coordinator-go/lending"
)

// Session pairs one client's foreground services with its background
// reconciliation loop, sharing a single change notifier so the loop notices
// this client's own commits promptly.
type Session struct {
	Catalog    *Catalog
	Accounts   *Accounts
	Reconciler *Reconciler

	group     *errgroup.Group
	cancelRun context.CancelFunc
}

// SessionConfig configures a session.
type SessionConfig struct {
	User       lending.UserIDString
	Reconciler ReconcilerConfig
	Catalog    []CatalogOption
	Accounts   []AccountsOption
}

// NewSession wires a catalog, an accounts service, and a reconciler onto one
// store for the given user.
func NewSession(store catalogstore.Store, cfg SessionConfig) (*Session, error) {
	catalog, err := NewCatalog(store, cfg.Catalog...)
	if err != nil {
		return nil, err
	}

	accounts, err := NewAccounts(store, cfg.Accounts...)
	if err != nil {
		return nil, err
	}

	reconciler, err := NewReconciler(store, catalog.Notifier(), cfg.User, cfg.Reconciler)
	if err != nil {
		return nil, err
	}

	return &Session{
		Catalog:    catalog,
		Accounts:   accounts,
		Reconciler: reconciler,
	}, nil
}

// Start launches the background reconciliation loop. It returns immediately;
// the loop runs until Close is called or the parent context is canceled.
func (s *Session) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRun = cancel

	group, groupCtx := errgroup.WithContext(runCtx)
	s.group = group

	group.Go(func() error {
		return s.Reconciler.Run(groupCtx)
	})
}

// Close stops the background loop and waits for it to finish. The
// context.Canceled from an ordinary shutdown is not reported as an error.
func (s *Session) Close() error {
	if s.cancelRun == nil {
		return nil
	}

	s.cancelRun()

	err := s.group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}
