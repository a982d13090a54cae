package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const (
	kindUser    = "user"
	kindResult  = "result"
	kindInvoice = "invoice"
)

// SQLiteStore keeps every record as a JSON blob keyed by kind, owner and id.
// It is the durable single-machine store used by the CLI and small deployments.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage: sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serialises writers and keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)

	statements := []string{
		`PRAGMA journal_mode=WAL`,
		`CREATE TABLE IF NOT EXISTS records (
			kind TEXT NOT NULL,
			owner TEXT NOT NULL DEFAULT '',
			id TEXT NOT NULL,
			lookup TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			body TEXT NOT NULL,
			PRIMARY KEY (kind, owner, id)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS records_user_lookup ON records (lookup) WHERE kind = 'user'`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init sqlite schema: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// CreateUser inserts a new user record.
func (s *SQLiteStore) CreateUser(ctx context.Context, user User) (User, error) {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	user.Email = NormalizeEmail(user.Email)
	if _, err := s.GetUserByEmail(ctx, user.Email); err == nil {
		return User{}, ErrUserExists
	}
	if err := s.insert(ctx, kindUser, "", user.ID, user.Email, user.CreatedAt, userRecord(user)); err != nil {
		if isSQLiteConstraint(err) {
			return User{}, ErrUserExists
		}
		return User{}, err
	}
	return user, nil
}

// GetUserByID loads a user by id.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (User, error) {
	var rec storedUser
	if err := s.get(ctx, `SELECT body FROM records WHERE kind = ? AND owner = '' AND id = ?`, &rec, kindUser, id); err != nil {
		return User{}, err
	}
	return rec.user(), nil
}

// GetUserByEmail loads a user by normalised email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var rec storedUser
	if err := s.get(ctx, `SELECT body FROM records WHERE kind = ? AND lookup = ?`, &rec, kindUser, NormalizeEmail(email)); err != nil {
		return User{}, err
	}
	return rec.user(), nil
}

// UpdateUser replaces a user record.
func (s *SQLiteStore) UpdateUser(ctx context.Context, user User) (User, error) {
	user.Email = NormalizeEmail(user.Email)
	body, err := json.Marshal(userRecord(user))
	if err != nil {
		return User{}, fmt.Errorf("encode user: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE records SET body = ?, lookup = ? WHERE kind = ? AND owner = '' AND id = ?`,
		string(body), user.Email, kindUser, user.ID)
	if err != nil {
		if isSQLiteConstraint(err) {
			return User{}, ErrUserExists
		}
		return User{}, fmt.Errorf("update user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return User{}, ErrNotFound
	}
	return user, nil
}

// UpdateProfile changes only the profile fields present in update.
func (s *SQLiteStore) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (User, error) {
	return s.modifyUser(ctx, userID, func(_ *sql.Tx, user *User) error {
		update.apply(user)
		return nil
	})
}

// SetPaymentMethod replaces only the stored payment method.
func (s *SQLiteStore) SetPaymentMethod(ctx context.Context, userID string, method PaymentMethod) (User, error) {
	return s.modifyUser(ctx, userID, func(_ *sql.Tx, user *User) error {
		user.PaymentMethod = &method
		return nil
	})
}

// ApplyPlanChange updates the tier and inserts the invoice in one transaction.
func (s *SQLiteStore) ApplyPlanChange(ctx context.Context, change PlanChange) (User, *Invoice, error) {
	var issued *Invoice
	user, err := s.modifyUser(ctx, change.UserID, func(tx *sql.Tx, user *User) error {
		if err := change.apply(user); err != nil {
			return err
		}
		if change.Invoice == nil {
			return nil
		}
		invoice := *change.Invoice
		invoice.UserID = user.ID
		if invoice.ID == "" {
			var count int
			if err := tx.QueryRowContext(ctx,
				`SELECT count(*) FROM records WHERE kind = ? AND owner = ?`, kindInvoice, user.ID).Scan(&count); err != nil {
				return fmt.Errorf("count invoices: %w", err)
			}
			invoice.ID = InvoiceID(invoice.Date, count+1)
		}
		if err := insertRecord(ctx, tx, kindInvoice, user.ID, invoice.ID, "", invoice.Date, invoice); err != nil {
			return err
		}
		issued = &invoice
		return nil
	})
	if err != nil {
		return User{}, nil, err
	}
	return user, issued, nil
}

// modifyUser loads, changes and writes back a user inside one transaction.
func (s *SQLiteStore) modifyUser(ctx context.Context, userID string, fn func(*sql.Tx, *User) error) (User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return User{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var rec storedUser
	if err := getRecord(ctx, tx, `SELECT body FROM records WHERE kind = ? AND owner = '' AND id = ?`, &rec, kindUser, userID); err != nil {
		return User{}, err
	}
	user := rec.user()
	if err := fn(tx, &user); err != nil {
		return User{}, err
	}
	body, err := json.Marshal(userRecord(user))
	if err != nil {
		return User{}, fmt.Errorf("encode user: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE records SET body = ? WHERE kind = ? AND owner = '' AND id = ?`,
		string(body), kindUser, user.ID); err != nil {
		return User{}, fmt.Errorf("update user: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return User{}, fmt.Errorf("commit: %w", err)
	}
	return user, nil
}

// SaveResult stores a library entry.
func (s *SQLiteStore) SaveResult(ctx context.Context, result SavedResult) (SavedResult, error) {
	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now()
	}
	if err := s.insert(ctx, kindResult, result.UserID, result.ID, "", result.CreatedAt, result); err != nil {
		return SavedResult{}, err
	}
	return result, nil
}

// ListResults returns the user's library, newest first.
func (s *SQLiteStore) ListResults(ctx context.Context, userID string) ([]SavedResult, error) {
	results := []SavedResult{}
	err := s.list(ctx, kindResult, userID, func(body []byte) error {
		var item SavedResult
		if err := json.Unmarshal(body, &item); err != nil {
			return err
		}
		results = append(results, item)
		return nil
	})
	return results, err
}

// GetResult loads one library entry.
func (s *SQLiteStore) GetResult(ctx context.Context, userID, id string) (SavedResult, error) {
	var item SavedResult
	if err := s.get(ctx, `SELECT body FROM records WHERE kind = ? AND owner = ? AND id = ?`, &item, kindResult, userID, id); err != nil {
		return SavedResult{}, err
	}
	return item, nil
}

// DeleteResult removes a library entry.
func (s *SQLiteStore) DeleteResult(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE kind = ? AND owner = ? AND id = ?`, kindResult, userID, id)
	if err != nil {
		return fmt.Errorf("delete saved result: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateInvoice stores an invoice.
func (s *SQLiteStore) CreateInvoice(ctx context.Context, invoice Invoice) (Invoice, error) {
	if err := s.insert(ctx, kindInvoice, invoice.UserID, invoice.ID, "", invoice.Date, invoice); err != nil {
		return Invoice{}, err
	}
	return invoice, nil
}

// ListInvoices returns the user's invoices, newest first.
func (s *SQLiteStore) ListInvoices(ctx context.Context, userID string) ([]Invoice, error) {
	invoices := []Invoice{}
	err := s.list(ctx, kindInvoice, userID, func(body []byte) error {
		var item Invoice
		if err := json.Unmarshal(body, &item); err != nil {
			return err
		}
		invoices = append(invoices, item)
		return nil
	})
	return invoices, err
}

// CountInvoices returns how many invoices the user has.
func (s *SQLiteStore) CountInvoices(ctx context.Context, userID string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM records WHERE kind = ? AND owner = ?`, kindInvoice, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count invoices: %w", err)
	}
	return count, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

// sqlRunner is satisfied by both *sql.DB and *sql.Tx.
type sqlRunner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) insert(ctx context.Context, kind, owner, id, lookup string, createdAt time.Time, value any) error {
	return insertRecord(ctx, s.db, kind, owner, id, lookup, createdAt, value)
}

func insertRecord(ctx context.Context, q sqlRunner, kind, owner, id, lookup string, createdAt time.Time, value any) error {
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}
	if _, err := q.ExecContext(ctx,
		`INSERT INTO records (kind, owner, id, lookup, created_at, body) VALUES (?, ?, ?, ?, ?, ?)`,
		kind, owner, id, lookup, createdAt.UnixNano(), string(body)); err != nil {
		return fmt.Errorf("insert %s: %w", kind, err)
	}
	return nil
}

func (s *SQLiteStore) get(ctx context.Context, query string, dest any, args ...any) error {
	return getRecord(ctx, s.db, query, dest, args...)
}

func getRecord(ctx context.Context, q sqlRunner, query string, dest any, args ...any) error {
	var body string
	err := q.QueryRowContext(ctx, query, args...).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("query record: %w", err)
	}
	if err := json.Unmarshal([]byte(body), dest); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) list(ctx context.Context, kind, owner string, fn func([]byte) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM records WHERE kind = ? AND owner = ? ORDER BY created_at DESC`, kind, owner)
	if err != nil {
		return fmt.Errorf("query %s: %w", kind, err)
	}
	defer rows.Close()

	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return fmt.Errorf("scan %s: %w", kind, err)
		}
		if err := fn([]byte(body)); err != nil {
			return fmt.Errorf("decode %s: %w", kind, err)
		}
	}
	return rows.Err()
}

// storedUser carries the password hash, which User hides from JSON.
type storedUser struct {
	User
	PasswordHash string `json:"password_hash"`
}

func userRecord(u User) storedUser {
	return storedUser{User: u, PasswordHash: u.PasswordHash}
}

func (r storedUser) user() User {
	u := r.User
	u.PasswordHash = r.PasswordHash
	return u
}

func isSQLiteConstraint(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
