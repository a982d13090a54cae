package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"homeraAi/internal/plans"
)

var (
	// ErrNotFound indicates that a record could not be located in the backing store.
	ErrNotFound = errors.New("record not found")
	// ErrUserExists is returned when registering an email twice.
	ErrUserExists = errors.New("user already exists")
	// ErrConflict is returned when a conditional write finds the record already changed.
	ErrConflict = errors.New("record changed concurrently")
)

// Role separates regular customers from administrators.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// SubscriptionStatus tracks the billing state of a user.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "ACTIVE"
	SubscriptionPastDue  SubscriptionStatus = "PAST_DUE"
	SubscriptionCanceled SubscriptionStatus = "CANCELED"
)

// PaymentMethod is the stored, non-sensitive part of a payment instrument.
type PaymentMethod struct {
	Type  string `json:"type"`
	Last4 string `json:"last4,omitempty"`
	Email string `json:"email,omitempty"`
}

// User is the account record for the current session.
type User struct {
	ID                 string             `json:"id"`
	Email              string             `json:"email"`
	DisplayName        string             `json:"display_name"`
	PasswordHash       string             `json:"-"`
	Country            string             `json:"country"`
	Role               Role               `json:"role"`
	Tier               plans.Tier         `json:"tier"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status"`
	NextBillingDate    *time.Time         `json:"next_billing_date,omitempty"`
	PaymentMethod      *PaymentMethod     `json:"payment_method,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
}

// SavedResult is one entry of a user's library.
type SavedResult struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	OriginalImage  string    `json:"original_image"`
	GeneratedImage string    `json:"generated_image"`
	Thumbnail      string    `json:"thumbnail,omitempty"`
	Prompt         string    `json:"prompt"`
	Quality        string    `json:"quality"`
	Resolution     string    `json:"resolution"`
	TierUsed       string    `json:"tier_used"`
	// MediaKeys are uploader object keys to delete with the entry.
	MediaKeys      []string  `json:"media_keys,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// InvoiceStatus is the payment state of an invoice.
type InvoiceStatus string

const (
	InvoicePaid    InvoiceStatus = "PAID"
	InvoicePending InvoiceStatus = "PENDING"
	InvoiceFailed  InvoiceStatus = "FAILED"
)

// InvoiceItem is a single billed line.
type InvoiceItem struct {
	Description string  `json:"desc"`
	Amount      float64 `json:"amount"`
}

// Invoice is issued when a paid plan is activated. Amounts are already rounded to cents.
type Invoice struct {
	ID        string        `json:"id"`
	UserID    string        `json:"user_id"`
	Date      time.Time     `json:"date"`
	Amount    float64       `json:"amount"`
	VATRate   int           `json:"vat_rate"`
	VATAmount float64       `json:"vat_amount"`
	Total     float64       `json:"total"`
	Status    InvoiceStatus `json:"status"`
	Items     []InvoiceItem `json:"items"`
}

// ProfileUpdate carries user-editable profile fields. Nil fields are left as stored.
type ProfileUpdate struct {
	DisplayName *string
	Country     *string
}

func (u ProfileUpdate) apply(user *User) {
	if u.DisplayName != nil {
		user.DisplayName = *u.DisplayName
	}
	if u.Country != nil {
		user.Country = *u.Country
	}
}

// PlanChange moves a user from FromTier to Tier. When Invoice is set it is
// stored in the same write; an empty Invoice.ID gets the next InvoiceID.
type PlanChange struct {
	UserID          string
	FromTier        plans.Tier
	Tier            plans.Tier
	Status          SubscriptionStatus
	NextBillingDate *time.Time
	Invoice         *Invoice
}

func (c PlanChange) apply(user *User) error {
	if user.Tier != c.FromTier {
		return ErrConflict
	}
	user.Tier = c.Tier
	user.SubscriptionStatus = c.Status
	user.NextBillingDate = c.NextBillingDate
	return nil
}

// InvoiceID formats the seq-th invoice of a user, e.g. INV-2026-001.
func InvoiceID(issued time.Time, seq int) string {
	return fmt.Sprintf("INV-%d-%03d", issued.Year(), seq)
}

// Store defines the persistence behaviors the application relies on.
type Store interface {
	CreateUser(ctx context.Context, user User) (User, error)
	GetUserByID(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	UpdateUser(ctx context.Context, user User) (User, error)
	UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (User, error)
	SetPaymentMethod(ctx context.Context, userID string, method PaymentMethod) (User, error)
	ApplyPlanChange(ctx context.Context, change PlanChange) (User, *Invoice, error)

	SaveResult(ctx context.Context, result SavedResult) (SavedResult, error)
	ListResults(ctx context.Context, userID string) ([]SavedResult, error)
	GetResult(ctx context.Context, userID, id string) (SavedResult, error)
	DeleteResult(ctx context.Context, userID, id string) error

	CreateInvoice(ctx context.Context, invoice Invoice) (Invoice, error)
	ListInvoices(ctx context.Context, userID string) ([]Invoice, error)
	CountInvoices(ctx context.Context, userID string) (int, error)

	Close()
}

// NewStore selects a backing store from the database URL:
// empty for in-memory, postgres:// for PostgreSQL, sqlite: or file: for a local SQLite file.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	url := strings.TrimSpace(databaseURL)
	switch {
	case url == "":
		return NewInMemoryStore(), nil
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return newPostgresStore(ctx, url)
	case strings.HasPrefix(url, "sqlite:"):
		return NewSQLiteStore(ctx, strings.TrimPrefix(url, "sqlite:"))
	case strings.HasPrefix(url, "file:"):
		return NewSQLiteStore(ctx, url)
	default:
		return nil, fmt.Errorf("storage: unsupported database url scheme")
	}
}

func newPostgresStore(ctx context.Context, databaseURL string) (Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := ensureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func ensureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
        id TEXT PRIMARY KEY,
        email TEXT NOT NULL UNIQUE,
        display_name TEXT NOT NULL DEFAULT '',
        password_hash TEXT NOT NULL,
        country TEXT NOT NULL DEFAULT '',
        role TEXT NOT NULL DEFAULT 'user',
        tier TEXT NOT NULL DEFAULT 'standard',
        subscription_status TEXT NOT NULL DEFAULT 'ACTIVE',
        next_billing_date TIMESTAMPTZ,
        payment_method JSONB,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now()
    )`,
		`CREATE TABLE IF NOT EXISTS saved_results (
        id TEXT PRIMARY KEY,
        user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
        original_image TEXT NOT NULL,
        generated_image TEXT NOT NULL,
        thumbnail TEXT NOT NULL DEFAULT '',
        prompt TEXT NOT NULL DEFAULT '',
        quality TEXT NOT NULL DEFAULT '',
        resolution TEXT NOT NULL DEFAULT '',
        tier_used TEXT NOT NULL DEFAULT '',
        media_keys JSONB,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now()
    )`,
		`ALTER TABLE saved_results ADD COLUMN IF NOT EXISTS media_keys JSONB`,
		`CREATE INDEX IF NOT EXISTS saved_results_user_idx ON saved_results (user_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS invoices (
        id TEXT NOT NULL,
        user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
        issued_at TIMESTAMPTZ NOT NULL,
        amount DOUBLE PRECISION NOT NULL,
        vat_rate INTEGER NOT NULL,
        vat_amount DOUBLE PRECISION NOT NULL,
        total DOUBLE PRECISION NOT NULL,
        status TEXT NOT NULL,
        items JSONB DEFAULT '[]'::jsonb,
        PRIMARY KEY (user_id, id)
    )`,
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// NormalizeEmail lower-cases and trims an address for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func planTier(raw string) plans.Tier {
	tier, _ := plans.ParseTier(raw)
	return tier
}
