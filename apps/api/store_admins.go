package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

const (
	roleAdmin           = "admin"
	roleDepartmentStaff = "department_staff"
)

var adminRoles = []string{roleAdmin, roleDepartmentStaff}

type adminAccount struct {
	Email        string
	PasswordHash string
	Role         string
	IsActive     bool
}

type adminAccountLookup func(ctx context.Context, email string) (*adminAccount, error)

var errInvalidCredentials = &apiError{Status: http.StatusUnauthorized, Code: "invalid_credentials", Message: "Invalid credentials"}

func (a *App) storeGetAdminAccount(ctx context.Context, email string) (*adminAccount, error) {
	account := &adminAccount{Email: email}
	err := a.db.QueryRowContext(ctx, `
		SELECT password_hash, role, is_active
		FROM admin_accounts
		WHERE email = $1
	`, email).Scan(&account.PasswordHash, &account.Role, &account.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return account, nil
}

func (a *App) storeUpsertAdminAccount(ctx context.Context, email, passwordHash, role string) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO admin_accounts (email, password_hash, role, is_active)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (email)
		DO UPDATE SET
			password_hash = EXCLUDED.password_hash,
			role = EXCLUDED.role,
			is_active = TRUE,
			updated_at = NOW()
	`, email, passwordHash, role)
	return err
}

// memoryAccounts holds bcrypt-hashed accounts when the service runs without a database.
type memoryAccounts struct {
	mu       sync.RWMutex
	accounts map[string]adminAccount
}

func newMemoryAccounts() *memoryAccounts {
	return &memoryAccounts{accounts: make(map[string]adminAccount)}
}

func (m *memoryAccounts) put(email, passwordHash, role string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(strings.TrimSpace(email))
	m.accounts[key] = adminAccount{Email: key, PasswordHash: passwordHash, Role: role, IsActive: true}
}

func (m *memoryAccounts) lookup(_ context.Context, email string) (*adminAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	account, ok := m.accounts[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, nil
	}
	return &account, nil
}

// localAuthenticator checks credentials against bcrypt hashes it can look up itself.
type localAuthenticator struct {
	lookup adminAccountLookup
}

func (l *localAuthenticator) check(ctx context.Context, email, password string) (*adminAccount, bool, error) {
	account, err := l.lookup(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, false, err
	}
	if account == nil || !account.IsActive || account.PasswordHash == "" {
		return nil, false, nil
	}
	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)) != nil {
		return nil, false, nil
	}
	return account, true, nil
}

func (l *localAuthenticator) Authenticate(ctx context.Context, email, password string) (string, error) {
	account, ok, err := l.check(ctx, email, password)
	if err != nil {
		return "", err
	}
	if !ok || !containsString(adminRoles, account.Role) {
		return "", errInvalidCredentials
	}
	return account.Role, nil
}

func (l *localAuthenticator) VerifyPassword(ctx context.Context, email, password string) error {
	_, ok, err := l.check(ctx, email, password)
	if err != nil {
		return err
	}
	if !ok {
		return newWorkflowError(kindAuthenticationFailed, "password verification failed")
	}
	return nil
}

func (a *App) bootstrapAdmin(ctx context.Context) error {
	email := strings.ToLower(a.cfg.BootstrapAdminEmail)
	password := a.cfg.BootstrapAdminPassword
	if email == "" || password == "" {
		a.log.Info("bootstrap admin not configured")
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	if a.db != nil {
		if err := a.storeUpsertAdminAccount(ctx, email, string(hash), roleAdmin); err != nil {
			return err
		}
	} else if a.accounts != nil {
		a.accounts.put(email, string(hash), roleAdmin)
	}

	a.log.Info("bootstrap admin ensured", "email", email, "role", roleAdmin)
	return nil
}
