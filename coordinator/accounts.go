package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/flowlend/lending-coordinator-go/catalogstore"
	"github.com/flowlend/lending-coordinator-go/lending"
)

const (
	msgUsernameTaken      = "username is already taken"
	msgInvalidCredentials = "invalid username or password"
	msgAlreadyLoggedIn    = "this account is already logged in from another session"
	msgNotLoggedIn        = "this account is not logged in"
	fmtRegistered         = "account %q registered"
	fmtWelcome            = "welcome, %s"
	fmtGoodbye            = "goodbye, %s"
)

// Accounts is the transactional service over the account mapping. The login
// flag is committed through the same conflict-retried transactional path the
// catalog uses, so two racing logins for one account resolve to exactly one
// winner.
type Accounts struct {
	store     catalogstore.Store
	logger    catalogstore.Logger
	retryOpts []RetryOption
}

// AccountsOption configures an Accounts service.
type AccountsOption func(*Accounts) error

// WithAccountsLogger sets a logger for operational warnings and errors.
func WithAccountsLogger(logger catalogstore.Logger) AccountsOption {
	return func(a *Accounts) error {
		a.logger = logger
		return nil
	}
}

// WithAccountsRetryPolicy overrides the default conflict-retry policy.
func WithAccountsRetryPolicy(options ...RetryOption) AccountsOption {
	return func(a *Accounts) error {
		a.retryOpts = options
		return nil
	}
}

// NewAccounts creates an accounts service on the given store.
func NewAccounts(store catalogstore.Store, options ...AccountsOption) (*Accounts, error) {
	if store == nil {
		return nil, errors.New("store must not be nil")
	}

	a := &Accounts{store: store}

	for _, option := range options {
		if err := option(a); err != nil {
			return nil, err
		}
	}

	return a, nil
}

// Register creates a new account with the given role.
func (a *Accounts) Register(ctx context.Context, username lending.UserIDString, password string, role lending.Role) (lending.Outcome, error) {
	account, err := lending.BuildAccount(username, password, role)
	if errors.Is(err, lending.ErrEmptyUsername) || errors.Is(err, lending.ErrEmptyPassword) {
		return lending.Rejected(err.Error()), nil
	}
	if err != nil {
		return lending.Outcome{}, err
	}

	var outcome lending.Outcome

	operation := func(ctx context.Context) error {
		outcome = lending.Outcome{}

		tx, err := a.store.BeginTx(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Abort(ctx) }()

		_, getErr := tx.GetAccount(ctx, username)
		if getErr == nil {
			outcome = lending.Rejected(msgUsernameTaken)
			return nil
		}
		if !errors.Is(getErr, catalogstore.ErrAccountNotFound) {
			return getErr
		}

		if err := tx.PutAccount(ctx, catalogstore.BuildAccountDocument(account), 0); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}

		outcome = lending.Accepted(fmt.Sprintf(fmtRegistered, username))

		return nil
	}

	return a.finish(outcome, RetryOnConflict(ctx, operation, a.retryOpts...))
}

// Login verifies the password and marks the account as logged in. A second
// login while the flag is set is rejected.
func (a *Accounts) Login(ctx context.Context, username lending.UserIDString, password string) (lending.Outcome, error) {
	return a.mutateAccount(ctx, username, func(account *lending.Account) lending.Outcome {
		if !account.CheckPassword(password) {
			return lending.Rejected(msgInvalidCredentials)
		}
		if account.IsLoggedIn {
			return lending.Rejected(msgAlreadyLoggedIn)
		}

		account.IsLoggedIn = true

		return lending.Accepted(fmt.Sprintf(fmtWelcome, username))
	})
}

// Logout clears the account's login flag.
func (a *Accounts) Logout(ctx context.Context, username lending.UserIDString) (lending.Outcome, error) {
	return a.mutateAccount(ctx, username, func(account *lending.Account) lending.Outcome {
		if !account.IsLoggedIn {
			return lending.Rejected(msgNotLoggedIn)
		}

		account.IsLoggedIn = false

		return lending.Accepted(fmt.Sprintf(fmtGoodbye, username))
	})
}

// SeedAdmin ensures an admin account exists, creating it on first start and
// leaving an existing one untouched.
func (a *Accounts) SeedAdmin(ctx context.Context, username lending.UserIDString, password string) error {
	outcome, err := a.Register(ctx, username, password, lending.RoleAdmin)
	if err != nil {
		return err
	}
	if !outcome.OK && outcome.Message != msgUsernameTaken {
		return fmt.Errorf("seeding admin account: %s", outcome.Message)
	}

	return nil
}

func (a *Accounts) mutateAccount(ctx context.Context, username lending.UserIDString, transition func(account *lending.Account) lending.Outcome) (lending.Outcome, error) {
	var outcome lending.Outcome

	operation := func(ctx context.Context) error {
		outcome = lending.Outcome{}

		tx, err := a.store.BeginTx(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Abort(ctx) }()

		stored, err := tx.GetAccount(ctx, username)
		if errors.Is(err, catalogstore.ErrAccountNotFound) {
			outcome = lending.Rejected(msgInvalidCredentials)
			return nil
		}
		if err != nil {
			return err
		}

		account := stored.Doc.ToAccount()

		outcome = transition(&account)
		if !outcome.Mutated() {
			return nil
		}

		if err := tx.PutAccount(ctx, catalogstore.BuildAccountDocument(account), stored.Version); err != nil {
			return err
		}

		return tx.Commit(ctx)
	}

	return a.finish(outcome, RetryOnConflict(ctx, operation, a.retryOpts...))
}

func (a *Accounts) finish(outcome lending.Outcome, err error) (lending.Outcome, error) {
	if err == nil {
		return outcome, nil
	}

	if errors.Is(err, catalogstore.ErrWriteConflict) {
		if a.logger != nil {
			a.logger.Warn("conflict retries exhausted", "error", err.Error())
		}
		return lending.Rejected(msgCatalogBusy), err
	}

	if a.logger != nil {
		a.logger.Error("account operation failed", "error", err.Error())
	}

	return lending.Outcome{}, err
}
