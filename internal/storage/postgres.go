package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists users, library entries and invoices in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const (
	userColumns   = `id, email, display_name, password_hash, country, role, tier, subscription_status, next_billing_date, payment_method, created_at`
	resultColumns = `id, user_id, original_image, generated_image, thumbnail, prompt, quality, resolution, tier_used, media_keys, created_at`

	updateUserSQL = `UPDATE users SET email = $2, display_name = $3, password_hash = $4, country = $5, role = $6,
        tier = $7, subscription_status = $8, next_billing_date = $9, payment_method = $10
        WHERE id = $1`
	insertInvoiceSQL = `INSERT INTO invoices (id, user_id, issued_at, amount, vat_rate, vat_amount, total, status, items)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
)

// CreateUser inserts a new user row.
func (s *PostgresStore) CreateUser(ctx context.Context, user User) (User, error) {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	user.Email = NormalizeEmail(user.Email)

	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		user.ID, user.Email, user.DisplayName, user.PasswordHash, user.Country, string(user.Role),
		string(user.Tier), string(user.SubscriptionStatus), user.NextBillingDate, user.PaymentMethod, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrUserExists
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

// GetUserByID loads a user by primary key.
func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetUserByEmail loads a user by normalised email.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, NormalizeEmail(email))
	return scanUser(row)
}

// UpdateUser writes every mutable user column.
func (s *PostgresStore) UpdateUser(ctx context.Context, user User) (User, error) {
	user.Email = NormalizeEmail(user.Email)
	tag, err := s.pool.Exec(ctx, updateUserSQL, userUpdateArgs(user)...)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrUserExists
		}
		return User{}, fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return User{}, ErrNotFound
	}
	return user, nil
}

// UpdateProfile changes only the profile fields present in update.
func (s *PostgresStore) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (User, error) {
	return s.modifyUser(ctx, userID, func(_ pgx.Tx, user *User) error {
		update.apply(user)
		return nil
	})
}

// SetPaymentMethod replaces only the stored payment method.
func (s *PostgresStore) SetPaymentMethod(ctx context.Context, userID string, method PaymentMethod) (User, error) {
	return s.modifyUser(ctx, userID, func(_ pgx.Tx, user *User) error {
		user.PaymentMethod = &method
		return nil
	})
}

// ApplyPlanChange updates the tier and inserts the invoice in one transaction.
// The user row lock serialises invoice numbering per user.
func (s *PostgresStore) ApplyPlanChange(ctx context.Context, change PlanChange) (User, *Invoice, error) {
	var issued *Invoice
	user, err := s.modifyUser(ctx, change.UserID, func(tx pgx.Tx, user *User) error {
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
			if err := tx.QueryRow(ctx, `SELECT count(*) FROM invoices WHERE user_id = $1`, user.ID).Scan(&count); err != nil {
				return fmt.Errorf("count invoices: %w", err)
			}
			invoice.ID = InvoiceID(invoice.Date, count+1)
		}
		if _, err := tx.Exec(ctx, insertInvoiceSQL, invoiceArgs(invoice)...); err != nil {
			return fmt.Errorf("insert invoice: %w", err)
		}
		issued = &invoice
		return nil
	})
	if err != nil {
		return User{}, nil, err
	}
	return user, issued, nil
}

func (s *PostgresStore) modifyUser(ctx context.Context, userID string, fn func(pgx.Tx, *User) error) (User, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return User{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	user, err := scanUser(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, userID))
	if err != nil {
		return User{}, err
	}
	if err := fn(tx, &user); err != nil {
		return User{}, err
	}
	if _, err := tx.Exec(ctx, updateUserSQL, userUpdateArgs(user)...); err != nil {
		return User{}, fmt.Errorf("update user: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return User{}, fmt.Errorf("commit: %w", err)
	}
	return user, nil
}

// SaveResult inserts a library entry.
func (s *PostgresStore) SaveResult(ctx context.Context, result SavedResult) (SavedResult, error) {
	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now()
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO saved_results (`+resultColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		result.ID, result.UserID, result.OriginalImage, result.GeneratedImage, result.Thumbnail,
		result.Prompt, result.Quality, result.Resolution, result.TierUsed, result.MediaKeys, result.CreatedAt); err != nil {
		return SavedResult{}, fmt.Errorf("insert saved result: %w", err)
	}
	return result, nil
}

// ListResults returns the user's library, newest first.
func (s *PostgresStore) ListResults(ctx context.Context, userID string) ([]SavedResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+resultColumns+` FROM saved_results WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query saved results: %w", err)
	}
	defer rows.Close()

	results := []SavedResult{}
	for rows.Next() {
		var item SavedResult
		if err := rows.Scan(&item.ID, &item.UserID, &item.OriginalImage, &item.GeneratedImage, &item.Thumbnail,
			&item.Prompt, &item.Quality, &item.Resolution, &item.TierUsed, &item.MediaKeys, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan saved result: %w", err)
		}
		results = append(results, item)
	}
	return results, rows.Err()
}

// GetResult loads one library entry owned by the user.
func (s *PostgresStore) GetResult(ctx context.Context, userID, id string) (SavedResult, error) {
	var item SavedResult
	err := s.pool.QueryRow(ctx,
		`SELECT `+resultColumns+` FROM saved_results WHERE user_id = $1 AND id = $2`, userID, id).
		Scan(&item.ID, &item.UserID, &item.OriginalImage, &item.GeneratedImage, &item.Thumbnail,
			&item.Prompt, &item.Quality, &item.Resolution, &item.TierUsed, &item.MediaKeys, &item.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return SavedResult{}, ErrNotFound
	}
	if err != nil {
		return SavedResult{}, fmt.Errorf("get saved result: %w", err)
	}
	return item, nil
}

// DeleteResult removes a library entry.
func (s *PostgresStore) DeleteResult(ctx context.Context, userID, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM saved_results WHERE user_id = $1 AND id = $2`, userID, id)
	if err != nil {
		return fmt.Errorf("delete saved result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateInvoice inserts an invoice.
func (s *PostgresStore) CreateInvoice(ctx context.Context, invoice Invoice) (Invoice, error) {
	if _, err := s.pool.Exec(ctx, insertInvoiceSQL, invoiceArgs(invoice)...); err != nil {
		return Invoice{}, fmt.Errorf("insert invoice: %w", err)
	}
	return invoice, nil
}

// ListInvoices returns the user's invoices, newest first.
func (s *PostgresStore) ListInvoices(ctx context.Context, userID string) ([]Invoice, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, issued_at, amount, vat_rate, vat_amount, total, status, items
        FROM invoices WHERE user_id = $1 ORDER BY issued_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query invoices: %w", err)
	}
	defer rows.Close()

	invoices := []Invoice{}
	for rows.Next() {
		var (
			item   Invoice
			status string
		)
		if err := rows.Scan(&item.ID, &item.UserID, &item.Date, &item.Amount, &item.VATRate,
			&item.VATAmount, &item.Total, &status, &item.Items); err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		item.Status = InvoiceStatus(status)
		invoices = append(invoices, item)
	}
	return invoices, rows.Err()
}

// CountInvoices returns how many invoices the user has.
func (s *PostgresStore) CountInvoices(ctx context.Context, userID string) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM invoices WHERE user_id = $1`, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count invoices: %w", err)
	}
	return count, nil
}

// Close releases database resources.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func userUpdateArgs(user User) []any {
	return []any{
		user.ID, user.Email, user.DisplayName, user.PasswordHash, user.Country, string(user.Role),
		string(user.Tier), string(user.SubscriptionStatus), user.NextBillingDate, user.PaymentMethod,
	}
}

func invoiceArgs(invoice Invoice) []any {
	return []any{
		invoice.ID, invoice.UserID, invoice.Date, invoice.Amount, invoice.VATRate, invoice.VATAmount,
		invoice.Total, string(invoice.Status), invoice.Items,
	}
}

func scanUser(row pgx.Row) (User, error) {
	var (
		user                     User
		role, tier, subscription string
	)
	err := row.Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.Country,
		&role, &tier, &subscription, &user.NextBillingDate, &user.PaymentMethod, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("scan user: %w", err)
	}
	user.Role = Role(role)
	user.Tier = planTier(tier)
	user.SubscriptionStatus = SubscriptionStatus(subscription)
	return user, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
