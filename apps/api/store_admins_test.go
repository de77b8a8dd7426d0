package main

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func hashForTest(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func TestLocalAuthenticatorWithMemoryAccounts(t *testing.T) {
	accounts := newMemoryAccounts()
	accounts.put(" Admin@CivicDesk.local ", hashForTest(t, "secret-pass"), roleAdmin)
	accounts.put("citizen@example.com", hashForTest(t, "secret-pass"), "citizen")
	auth := &localAuthenticator{lookup: accounts.lookup}

	role, err := auth.Authenticate(context.Background(), "admin@civicdesk.local", "secret-pass")
	require.NoError(t, err)
	assert.Equal(t, roleAdmin, role)

	_, err = auth.Authenticate(context.Background(), "admin@civicdesk.local", "wrong")
	assert.Same(t, errInvalidCredentials, err)

	_, err = auth.Authenticate(context.Background(), "nobody@civicdesk.local", "secret-pass")
	assert.Same(t, errInvalidCredentials, err)

	// A valid password is not enough without a dashboard role.
	_, err = auth.Authenticate(context.Background(), "citizen@example.com", "secret-pass")
	assert.Same(t, errInvalidCredentials, err)

	assert.NoError(t, auth.VerifyPassword(context.Background(), "ADMIN@civicdesk.local", "secret-pass"))
	err = auth.VerifyPassword(context.Background(), "admin@civicdesk.local", "wrong")
	assert.True(t, isWorkflowErrorKind(err, kindAuthenticationFailed))
}

func TestLocalAuthenticatorPropagatesLookupErrors(t *testing.T) {
	auth := &localAuthenticator{lookup: func(context.Context, string) (*adminAccount, error) {
		return nil, errors.New("database unavailable")
	}}

	err := auth.VerifyPassword(context.Background(), "admin@civicdesk.local", "secret-pass")
	require.Error(t, err)
	assert.False(t, isWorkflowErrorKind(err, kindAuthenticationFailed), "an outage is not a wrong password")
}

func TestStoreGetAdminAccount(t *testing.T) {
	it(func() {
		app := &App{db: mockDB}
		mock.ExpectQuery("SELECT password_hash, role, is_active FROM admin_accounts").
			WithArgs("staff@civicdesk.local").
			WillReturnRows(sqlmock.NewRows([]string{"password_hash", "role", "is_active"}).
				AddRow("$2a$04$hash", roleDepartmentStaff, false))
		mock.ExpectQuery("SELECT password_hash, role, is_active FROM admin_accounts").
			WithArgs("nobody@civicdesk.local").
			WillReturnError(sql.ErrNoRows)

		account, err := app.storeGetAdminAccount(context.Background(), "staff@civicdesk.local")
		require.NoError(t, err)
		assert.Equal(t, roleDepartmentStaff, account.Role)
		assert.False(t, account.IsActive)

		account, err = app.storeGetAdminAccount(context.Background(), "nobody@civicdesk.local")
		require.NoError(t, err)
		assert.Nil(t, account)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLocalAuthenticatorRejectsInactiveAccount(t *testing.T) {
	it(func() {
		app := &App{db: mockDB}
		mock.ExpectQuery("FROM admin_accounts").
			WithArgs("staff@civicdesk.local").
			WillReturnRows(sqlmock.NewRows([]string{"password_hash", "role", "is_active"}).
				AddRow(hashForTest(t, "secret-pass"), roleDepartmentStaff, false))

		auth := &localAuthenticator{lookup: app.storeGetAdminAccount}
		_, err := auth.Authenticate(context.Background(), "staff@civicdesk.local", "secret-pass")
		assert.Same(t, errInvalidCredentials, err)
	})
}

func TestBootstrapAdminUpsertsAccount(t *testing.T) {
	it(func() {
		app := &App{
			db:  mockDB,
			log: discardLogger(),
			cfg: &Config{BootstrapAdminEmail: "Ops@CivicDesk.local", BootstrapAdminPassword: "change-me-now"},
		}
		mock.ExpectExec("INSERT INTO admin_accounts").
			WithArgs("ops@civicdesk.local", sqlmock.AnyArg(), roleAdmin).
			WillReturnResult(sqlmock.NewResult(1, 1))

		require.NoError(t, app.bootstrapAdmin(context.Background()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestBootstrapAdminInMemory(t *testing.T) {
	app := &App{
		log:      discardLogger(),
		accounts: newMemoryAccounts(),
		cfg:      &Config{BootstrapAdminEmail: "ops@civicdesk.local", BootstrapAdminPassword: "change-me-now"},
	}
	require.NoError(t, app.bootstrapAdmin(context.Background()))

	auth := &localAuthenticator{lookup: app.accounts.lookup}
	role, err := auth.Authenticate(context.Background(), "ops@civicdesk.local", "change-me-now")
	require.NoError(t, err)
	assert.Equal(t, roleAdmin, role)
}

func TestBootstrapAdminSkipsWhenUnconfigured(t *testing.T) {
	app := &App{log: discardLogger(), accounts: newMemoryAccounts(), cfg: &Config{}}
	require.NoError(t, app.bootstrapAdmin(context.Background()))
	account, err := app.accounts.lookup(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, account)
}

func TestStoreRecordBulkOperation(t *testing.T) {
	it(func() {
		app := &App{db: mockDB}
		result := &BulkOperationResult{
			OperationID: "3f0c0d0e-0000-4000-8000-000000000001",
			Action:      bulkActionSeverity,
			Total:       3,
			Successful:  2,
			Failed:      1,
			Actor:       "admin@civicdesk.local",
			CompletedAt: bulkTestNow,
		}
		mock.ExpectExec("INSERT INTO bulk_operation_log").
			WithArgs(result.OperationID, result.Actor, "severity", 3, 2, 1, 0, []byte("[]"), bulkTestNow).
			WillReturnResult(sqlmock.NewResult(1, 1))

		require.NoError(t, app.storeRecordBulkOperation(context.Background(), result))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
