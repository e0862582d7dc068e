package coordinator_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowlend/lending-coordinator-go/catalogstore/memoryengine"
	"github.com/flowlend/lending-coordinator-go/coordinator"
	"github.com/flowlend/lending-coordinator-go/lending"
)

func Test_Register_CreatesAccount(t *testing.T) {
	// arrange
	ctx := context.Background()
	accounts := givenAccounts(t)

	// act
	outcome, err := accounts.Register(ctx, "alice", "correct horse battery staple", lending.RoleUser)

	// assert
	require.NoError(t, err)
	assert.True(t, outcome.OK)
}

func Test_Register_RejectsTakenUsername(t *testing.T) {
	// arrange
	ctx := context.Background()
	accounts := givenAccounts(t)
	registered, err := accounts.Register(ctx, "alice", "first password", lending.RoleUser)
	mustAccept(t, registered, err)

	// act
	outcome, err := accounts.Register(ctx, "alice", "second password", lending.RoleUser)

	// assert
	require.NoError(t, err)
	assert.False(t, outcome.OK)
}

func Test_Register_RejectsEmptyCredentials(t *testing.T) {
	ctx := context.Background()
	accounts := givenAccounts(t)

	outcome, err := accounts.Register(ctx, "", "password", lending.RoleUser)
	require.NoError(t, err)
	assert.False(t, outcome.OK)

	outcome, err = accounts.Register(ctx, "alice", "", lending.RoleUser)
	require.NoError(t, err)
	assert.False(t, outcome.OK)
}

func Test_Login_AcceptsCorrectPassword_Once(t *testing.T) {
	// arrange
	ctx := context.Background()
	accounts := givenAccounts(t)
	registered, err := accounts.Register(ctx, "alice", "correct horse battery staple", lending.RoleUser)
	mustAccept(t, registered, err)

	// act
	first, err := accounts.Login(ctx, "alice", "correct horse battery staple")
	require.NoError(t, err)

	second, err := accounts.Login(ctx, "alice", "correct horse battery staple")
	require.NoError(t, err)

	// assert - the second login is rejected while the flag is set
	assert.True(t, first.OK)
	assert.False(t, second.OK)
}

func Test_Login_RejectsWrongPassword(t *testing.T) {
	// arrange
	ctx := context.Background()
	accounts := givenAccounts(t)
	registered, err := accounts.Register(ctx, "alice", "correct horse battery staple", lending.RoleUser)
	mustAccept(t, registered, err)

	// act
	outcome, err := accounts.Login(ctx, "alice", "wrong password")

	// assert
	require.NoError(t, err)
	assert.False(t, outcome.OK)
}

func Test_Login_RejectsUnknownUser(t *testing.T) {
	ctx := context.Background()
	accounts := givenAccounts(t)

	outcome, err := accounts.Login(ctx, "nobody", "whatever")

	require.NoError(t, err)
	assert.False(t, outcome.OK)
}

func Test_Logout_ClearsLoginFlag(t *testing.T) {
	// arrange
	ctx := context.Background()
	accounts := givenAccounts(t)
	registered, err := accounts.Register(ctx, "alice", "correct horse battery staple", lending.RoleUser)
	mustAccept(t, registered, err)

	loggedIn, err := accounts.Login(ctx, "alice", "correct horse battery staple")
	mustAccept(t, loggedIn, err)

	// act
	outcome, err := accounts.Logout(ctx, "alice")
	require.NoError(t, err)
	require.True(t, outcome.OK)

	// assert - logging in again works after logout
	again, err := accounts.Login(ctx, "alice", "correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, again.OK)
}

func Test_Logout_Rejected_WhenNotLoggedIn(t *testing.T) {
	ctx := context.Background()
	accounts := givenAccounts(t)
	registered, err := accounts.Register(ctx, "alice", "correct horse battery staple", lending.RoleUser)
	mustAccept(t, registered, err)

	outcome, err := accounts.Logout(ctx, "alice")

	require.NoError(t, err)
	assert.False(t, outcome.OK)
}

func Test_SeedAdmin_IsIdempotent(t *testing.T) {
	// arrange
	ctx := context.Background()
	accounts := givenAccounts(t)

	// act
	require.NoError(t, accounts.SeedAdmin(ctx, "admin", "initial admin password"))
	require.NoError(t, accounts.SeedAdmin(ctx, "admin", "a different password"))

	// assert - the original credentials survive the second seeding
	outcome, err := accounts.Login(ctx, "admin", "initial admin password")
	require.NoError(t, err)
	assert.True(t, outcome.OK)
}

func givenAccounts(t *testing.T) *coordinator.Accounts {
	t.Helper()

	accounts, err := coordinator.NewAccounts(memoryengine.NewStore())
	require.NoError(t, err)

	return accounts
}
