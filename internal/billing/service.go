package billing

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog/log"

	"homeraAi/internal/plans"
	"homeraAi/internal/storage"
)

var (
	// ErrPaymentMethodRequired is returned when a paid plan is chosen without a stored payment method.
	ErrPaymentMethodRequired = errors.New("billing: payment method required")
	// ErrInvalidPaymentMethod reports unusable card or PayPal details.
	ErrInvalidPaymentMethod = errors.New("billing: invalid payment method")
	// ErrUnknownTier is returned for tier ids outside the catalog.
	ErrUnknownTier = errors.New("billing: unknown tier")
	// ErrAlreadyOnPlan is returned when a paid tier is chosen while it is already active.
	ErrAlreadyOnPlan = errors.New("billing: plan already active")
)

// Payment method kinds accepted from clients.
const (
	PaymentCard   = "CREDIT_CARD"
	PaymentPayPal = "PAYPAL"
)

// PaymentInput is what a client submits when saving a payment method.
// Only the last four card digits are kept.
type PaymentInput struct {
	Type        string `json:"type"`
	CardNumber  string `json:"card_number,omitempty"`
	PayPalEmail string `json:"paypal_email,omitempty"`
}

// Service applies plan changes and issues invoices.
type Service struct {
	Store storage.Store
	Now   func() time.Time
}

// NewService returns a Service using the wall clock.
func NewService(store storage.Store) *Service {
	return &Service{Store: store, Now: time.Now}
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// SetPaymentMethod stores the payment method for the user.
func (s *Service) SetPaymentMethod(ctx context.Context, userID string, in PaymentInput) (storage.User, error) {
	method, err := paymentMethod(in)
	if err != nil {
		return storage.User{}, err
	}
	updated, err := s.Store.SetPaymentMethod(ctx, userID, method)
	if err != nil {
		return storage.User{}, err
	}
	log.Info().Str("user_id", userID).Str("type", method.Type).Msg("payment method updated")
	return updated, nil
}

// Quote prices tier for the user's country.
func (s *Service) Quote(ctx context.Context, userID string, tierID string) (Breakdown, error) {
	tier, ok := plans.ParseTier(tierID)
	if !ok {
		return Breakdown{}, ErrUnknownTier
	}
	user, err := s.Store.GetUserByID(ctx, userID)
	if err != nil {
		return Breakdown{}, err
	}
	return Quote(plans.Lookup(string(tier)), user.Country), nil
}

// ChangePlan moves the user to tierID. Paid tiers require a payment method and
// produce a PAID invoice stored together with the tier change; moving to the
// free tier produces none. Re-selecting the active paid tier is rejected.
func (s *Service) ChangePlan(ctx context.Context, userID string, tierID string) (storage.User, *storage.Invoice, error) {
	tier, ok := plans.ParseTier(tierID)
	if !ok {
		return storage.User{}, nil, ErrUnknownTier
	}
	user, err := s.Store.GetUserByID(ctx, userID)
	if err != nil {
		return storage.User{}, nil, err
	}
	plan := plans.Lookup(string(tier))
	change := storage.PlanChange{
		UserID:   userID,
		FromTier: user.Tier,
		Tier:     plan.ID,
		Status:   storage.SubscriptionActive,
	}

	if !plan.IsPaid() {
		if user.Tier == plan.ID {
			return user, nil, nil
		}
		updated, _, err := s.Store.ApplyPlanChange(ctx, change)
		if err != nil {
			return storage.User{}, nil, err
		}
		log.Info().Str("user_id", userID).Str("tier", string(plan.ID)).Msg("plan downgraded")
		return updated, nil, nil
	}

	if user.Tier == plan.ID && user.SubscriptionStatus == storage.SubscriptionActive {
		return storage.User{}, nil, ErrAlreadyOnPlan
	}
	if user.PaymentMethod == nil {
		return storage.User{}, nil, ErrPaymentMethodRequired
	}

	now := s.now()
	next := now.AddDate(0, 1, 0)
	quote := Quote(plan, user.Country)
	change.NextBillingDate = &next
	change.Invoice = &storage.Invoice{
		UserID:    userID,
		Date:      now,
		Amount:    quote.PriceExVAT,
		VATRate:   quote.VATRate,
		VATAmount: quote.VAT,
		Total:     quote.Total,
		Status:    storage.InvoicePaid,
		Items:     []storage.InvoiceItem{{Description: plan.Name + " Subscription", Amount: quote.PriceExVAT}},
	}

	log.Info().
		Str("user_id", userID).
		Str("method", user.PaymentMethod.Type).
		Float64("amount", quote.Total).
		Str("currency", "EUR").
		Msg("charging subscription")

	updated, invoice, err := s.Store.ApplyPlanChange(ctx, change)
	if err != nil {
		return storage.User{}, nil, err
	}
	return updated, invoice, nil
}

func paymentMethod(in PaymentInput) (storage.PaymentMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(in.Type)) {
	case PaymentCard, "CARD", "VISA":
		digits := strings.Map(func(r rune) rune {
			if unicode.IsSpace(r) || r == '-' {
				return -1
			}
			return r
		}, in.CardNumber)
		if len(digits) < 4 || strings.IndexFunc(digits, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
			return storage.PaymentMethod{}, fmt.Errorf("%w: card number", ErrInvalidPaymentMethod)
		}
		return storage.PaymentMethod{Type: "VISA", Last4: digits[len(digits)-4:]}, nil
	case PaymentPayPal:
		addr, err := mail.ParseAddress(strings.TrimSpace(in.PayPalEmail))
		if err != nil {
			return storage.PaymentMethod{}, fmt.Errorf("%w: paypal email", ErrInvalidPaymentMethod)
		}
		return storage.PaymentMethod{Type: PaymentPayPal, Email: addr.Address}, nil
	default:
		return storage.PaymentMethod{}, fmt.Errorf("%w: unsupported type %q", ErrInvalidPaymentMethod, in.Type)
	}
}
