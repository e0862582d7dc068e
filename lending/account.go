package lending

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// Role determines which actions an account may perform.
type Role string

// The two roles the engine distinguishes.
const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Action identifies a permission-checked operation.
type Action string

// Actions gated by role permissions.
const (
	ActionAdd     Action = "add"
	ActionDelete  Action = "delete"
	ActionApprove Action = "approve"
	ActionBorrow  Action = "borrow"
	ActionReturn  Action = "return"
	ActionList    Action = "list"
)

var (
	// ErrEmptyUsername is returned when an account is built without a username.
	ErrEmptyUsername = errors.New("username must not be empty")

	// ErrEmptyPassword is returned when an account is built without a password.
	ErrEmptyPassword = errors.New("password must not be empty")
)

// Account is the credential record referenced by the lending engine. The
// engine never owns accounts, it only reads the role for permission checks
// and flips the login flag through the same transactional store the catalog
// uses.
type Account struct {
	Username     UserIDString
	PasswordHash string
	Role         Role
	IsLoggedIn   bool
}

// BuildAccount creates a new account with a bcrypt hash of the password.
func BuildAccount(username UserIDString, password string, role Role) (Account, error) {
	if username == "" {
		return Account{}, ErrEmptyUsername
	}

	if password == "" {
		return Account{}, ErrEmptyPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Account{}, err
	}

	return Account{
		Username:     username,
		PasswordHash: string(hash),
		Role:         role,
	}, nil
}

// CheckPassword reports whether the password matches the stored hash.
func (a Account) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)) == nil
}

// HasPermission reports whether the account's role allows the action.
func (a Account) HasPermission(action Action) bool {
	switch a.Role {
	case RoleAdmin:
		return true
	case RoleUser:
		switch action {
		case ActionBorrow, ActionReturn, ActionList:
			return true
		default:
			return false
		}
	default:
		return false
	}
}

// IsAdmin reports whether the account has the admin role.
func (a Account) IsAdmin() bool {
	return a.Role == RoleAdmin
}
