package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a thread-safe store used when a database is not configured.
type InMemoryStore struct {
	mu       sync.RWMutex
	users    map[string]User
	results  map[string][]SavedResult
	invoices map[string][]Invoice
}

// NewInMemoryStore constructs an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:    make(map[string]User),
		results:  make(map[string][]SavedResult),
		invoices: make(map[string][]Invoice),
	}
}

// CreateUser registers a new user; emails are unique.
func (s *InMemoryStore) CreateUser(_ context.Context, user User) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user.Email = NormalizeEmail(user.Email)
	for _, existing := range s.users {
		if existing.Email == user.Email {
			return User{}, ErrUserExists
		}
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	s.users[user.ID] = cloneUser(user)
	return cloneUser(user), nil
}

// GetUserByID returns a user by ID.
func (s *InMemoryStore) GetUserByID(_ context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return cloneUser(user), nil
}

// GetUserByEmail returns a user by normalised email.
func (s *InMemoryStore) GetUserByEmail(_ context.Context, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	email = NormalizeEmail(email)
	for _, user := range s.users {
		if user.Email == email {
			return cloneUser(user), nil
		}
	}
	return User{}, ErrNotFound
}

// UpdateUser replaces the stored user record.
func (s *InMemoryStore) UpdateUser(_ context.Context, user User) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; !ok {
		return User{}, ErrNotFound
	}
	user.Email = NormalizeEmail(user.Email)
	for id, existing := range s.users {
		if id != user.ID && existing.Email == user.Email {
			return User{}, ErrUserExists
		}
	}
	s.users[user.ID] = cloneUser(user)
	return cloneUser(user), nil
}

// UpdateProfile changes only the profile fields present in update.
func (s *InMemoryStore) UpdateProfile(_ context.Context, userID string, update ProfileUpdate) (User, error) {
	return s.modifyUser(userID, func(user *User) error {
		update.apply(user)
		return nil
	})
}

// SetPaymentMethod replaces only the stored payment method.
func (s *InMemoryStore) SetPaymentMethod(_ context.Context, userID string, method PaymentMethod) (User, error) {
	return s.modifyUser(userID, func(user *User) error {
		user.PaymentMethod = &method
		return nil
	})
}

// ApplyPlanChange updates the tier and stores the invoice under one lock.
func (s *InMemoryStore) ApplyPlanChange(_ context.Context, change PlanChange) (User, *Invoice, error) {
	var issued *Invoice
	user, err := s.modifyUser(change.UserID, func(user *User) error {
		if err := change.apply(user); err != nil {
			return err
		}
		if change.Invoice == nil {
			return nil
		}
		invoice := *change.Invoice
		invoice.UserID = user.ID
		if invoice.ID == "" {
			invoice.ID = InvoiceID(invoice.Date, len(s.invoices[user.ID])+1)
		}
		invoice.Items = append([]InvoiceItem(nil), invoice.Items...)
		s.invoices[user.ID] = append([]Invoice{invoice}, s.invoices[user.ID]...)
		issued = &invoice
		return nil
	})
	if err != nil {
		return User{}, nil, err
	}
	return user, issued, nil
}

func (s *InMemoryStore) modifyUser(userID string, fn func(*User) error) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return User{}, ErrNotFound
	}
	user = cloneUser(user)
	if err := fn(&user); err != nil {
		return User{}, err
	}
	s.users[userID] = cloneUser(user)
	return cloneUser(user), nil
}

// SaveResult prepends a result to the user's library.
func (s *InMemoryStore) SaveResult(_ context.Context, result SavedResult) (SavedResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now()
	}
	s.results[result.UserID] = append([]SavedResult{result}, s.results[result.UserID]...)
	return result, nil
}

// ListResults returns a snapshot of the user's library, newest first.
func (s *InMemoryStore) ListResults(_ context.Context, userID string) ([]SavedResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := make([]SavedResult, len(s.results[userID]))
	copy(snapshot, s.results[userID])
	sort.SliceStable(snapshot, func(i, j int) bool {
		return snapshot[i].CreatedAt.After(snapshot[j].CreatedAt)
	})
	return snapshot, nil
}

// GetResult returns one library entry owned by the user.
func (s *InMemoryStore) GetResult(_ context.Context, userID, id string) (SavedResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.results[userID] {
		if r.ID == id {
			return r, nil
		}
	}
	return SavedResult{}, ErrNotFound
}

// DeleteResult removes a library entry.
func (s *InMemoryStore) DeleteResult(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := s.results[userID]
	for idx, r := range items {
		if r.ID == id {
			s.results[userID] = append(items[:idx:idx], items[idx+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// CreateInvoice stores an invoice for the user.
func (s *InMemoryStore) CreateInvoice(_ context.Context, invoice Invoice) (Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	invoice.Items = append([]InvoiceItem(nil), invoice.Items...)
	s.invoices[invoice.UserID] = append([]Invoice{invoice}, s.invoices[invoice.UserID]...)
	return invoice, nil
}

// ListInvoices returns the user's invoices, newest first.
func (s *InMemoryStore) ListInvoices(_ context.Context, userID string) ([]Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := make([]Invoice, len(s.invoices[userID]))
	copy(snapshot, s.invoices[userID])
	return snapshot, nil
}

// CountInvoices returns how many invoices the user has.
func (s *InMemoryStore) CountInvoices(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.invoices[userID]), nil
}

// Close satisfies the Store interface.
func (s *InMemoryStore) Close() {}

func cloneUser(u User) User {
	if u.PaymentMethod != nil {
		pm := *u.PaymentMethod
		u.PaymentMethod = &pm
	}
	if u.NextBillingDate != nil {
		next := *u.NextBillingDate
		u.NextBillingDate = &next
	}
	return u
}
