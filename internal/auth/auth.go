package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"homeraAi/internal/plans"
	"homeraAi/internal/storage"
)

// ErrInvalidCredentials is returned when email/password don't match.
var ErrInvalidCredentials = errors.New("invalid credentials")

// DefaultCountry is assigned to new accounts that do not name one.
const DefaultCountry = "Netherlands"

const (
	minPasswordLength = 6
	maxBodyBytes      = 64 << 10
)

type contextKey string

const userContextKey contextKey = "auth/user"

// SessionManager signs and validates lightweight session tokens.
type SessionManager struct {
	Secret       []byte
	Duration     time.Duration
	CookieName   string
	SecureCookie bool
}

// Claims captures decoded session data.
type Claims struct {
	UserID    string
	ExpiresAt time.Time
}

// Middleware attaches the authenticated user to the request context when a valid session cookie exists.
type Middleware struct {
	Store    storage.Store
	Sessions SessionManager
}

// Handler exposes auth endpoints for registering and logging in users.
type Handler struct {
	Store    storage.Store
	Sessions SessionManager
}

type authRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	Country     string `json:"country"`
}

// InjectUser parses the session cookie (if present) and loads the user into context.
func (m Middleware) InjectUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(m.Sessions.cookieName())
		if err == nil && cookie.Value != "" {
			if claims, err := m.Sessions.Parse(cookie.Value); err == nil && claims.ExpiresAt.After(time.Now()) {
				if user, err := m.Store.GetUserByID(r.Context(), claims.UserID); err == nil {
					r = r.WithContext(WithUser(r.Context(), user))
				}
			} else if err != nil {
				// Clear unusable cookies to avoid loops.
				clear := m.Sessions.expiredCookie()
				http.SetCookie(w, &clear)
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuth ensures a user exists in context or returns 401.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := UserFromContext(r.Context()); !ok {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Register handles POST /api/auth/register. New accounts start on the free tier.
func (h Handler) Register(w http.ResponseWriter, r *http.Request) {
	var payload authRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	email := storage.NormalizeEmail(payload.Email)
	if email == "" || len(payload.Password) < minPasswordLength {
		http.Error(w, fmt.Sprintf("email and password required (at least %d characters)", minPasswordLength), http.StatusBadRequest)
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(payload.Password), bcrypt.DefaultCost)
	if err != nil {
		http.Error(w, "could not create user", http.StatusInternalServerError)
		return
	}

	displayName := strings.TrimSpace(payload.DisplayName)
	if displayName == "" {
		displayName = strings.SplitN(email, "@", 2)[0]
	}
	country := strings.TrimSpace(payload.Country)
	if country == "" {
		country = DefaultCountry
	}

	created, err := h.Store.CreateUser(r.Context(), storage.User{
		Email:              email,
		DisplayName:        displayName,
		PasswordHash:       string(hashed),
		Country:            country,
		Role:               storage.RoleUser,
		Tier:               plans.DefaultTier,
		SubscriptionStatus: storage.SubscriptionActive,
		CreatedAt:          time.Now(),
	})
	if err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			http.Error(w, "email is already registered", http.StatusConflict)
			return
		}
		http.Error(w, "could not save user", http.StatusInternalServerError)
		return
	}

	log.Info().Str("user_id", created.ID).Msg("user registered")
	if !h.setSessionCookie(w, created.ID) {
		return
	}
	_ = jsonResponse(w, http.StatusCreated, created)
}

// Login handles POST /api/auth/login.
func (h Handler) Login(w http.ResponseWriter, r *http.Request) {
	var payload authRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	user, err := h.Authenticate(r.Context(), payload.Email, payload.Password)
	if err != nil {
		http.Error(w, "invalid email or password", http.StatusUnauthorized)
		return
	}

	if !h.setSessionCookie(w, user.ID) {
		return
	}
	_ = jsonResponse(w, http.StatusOK, user)
}

// Authenticate checks an email/password pair.
func (h Handler) Authenticate(ctx context.Context, email, password string) (storage.User, error) {
	email = storage.NormalizeEmail(email)
	if email == "" || password == "" {
		return storage.User{}, ErrInvalidCredentials
	}
	user, err := h.Store.GetUserByEmail(ctx, email)
	if err != nil {
		return storage.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return storage.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// Logout handles POST /api/auth/logout.
func (h Handler) Logout(w http.ResponseWriter, _ *http.Request) {
	cookie := h.Sessions.expiredCookie()
	http.SetCookie(w, &cookie)
	w.WriteHeader(http.StatusNoContent)
}

// Me returns the current user profile.
func (h Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "no active session", http.StatusUnauthorized)
		return
	}
	_ = jsonResponse(w, http.StatusOK, user)
}

// Parse validates a token and returns session claims.
func (sm SessionManager) Parse(token string) (Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return Claims{}, errors.New("invalid token format")
	}
	payload := parts[0]
	sig, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return Claims{}, fmt.Errorf("decode signature: %w", err)
	}

	mac := hmac.New(sha256.New, sm.Secret)
	mac.Write([]byte(payload))
	if !hmac.Equal(mac.Sum(nil), sig) {
		return Claims{}, errors.New("signature mismatch")
	}

	payloadParts := strings.Split(payload, "|")
	if len(payloadParts) != 2 {
		return Claims{}, errors.New("invalid payload")
	}
	userID := payloadParts[0]
	expUnix, err := strconv.ParseInt(payloadParts[1], 10, 64)
	if err != nil {
		return Claims{}, fmt.Errorf("parse expiry: %w", err)
	}
	return Claims{UserID: userID, ExpiresAt: time.Unix(expUnix, 0)}, nil
}

// Issue builds a signed session token for the given user.
func (sm SessionManager) Issue(userID string) (string, time.Time, error) {
	if len(sm.Secret) == 0 {
		return "", time.Time{}, errors.New("session secret missing")
	}
	expires := time.Now().Add(sm.sessionDuration())
	payload := fmt.Sprintf("%s|%d", userID, expires.Unix())
	mac := hmac.New(sha256.New, sm.Secret)
	mac.Write([]byte(payload))
	sig := mac.Sum(nil)
	token := payload + "." + base64.RawURLEncoding.EncodeToString(sig)
	return token, expires, nil
}

// WithUser stores the authenticated user in context.
func WithUser(ctx context.Context, user storage.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext extracts the authenticated user from context if present.
func UserFromContext(ctx context.Context) (storage.User, bool) {
	user, ok := ctx.Value(userContextKey).(storage.User)
	return user, ok
}

func (h Handler) setSessionCookie(w http.ResponseWriter, userID string) bool {
	token, exp, err := h.Sessions.Issue(userID)
	if err != nil {
		http.Error(w, "could not create session", http.StatusInternalServerError)
		return false
	}
	cookie := h.Sessions.cookie(token, exp)
	http.SetCookie(w, &cookie)
	return true
}

func (sm SessionManager) cookie(token string, expires time.Time) http.Cookie {
	return http.Cookie{
		Name:     sm.cookieName(),
		Value:    token,
		Path:     "/",
		Expires:  expires,
		MaxAge:   int(time.Until(expires).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   sm.SecureCookie,
	}
}

func (sm SessionManager) expiredCookie() http.Cookie {
	return http.Cookie{
		Name:     sm.cookieName(),
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   sm.SecureCookie,
	}
}

func (sm SessionManager) cookieName() string {
	if sm.CookieName != "" {
		return sm.CookieName
	}
	return "homera_session"
}

func (sm SessionManager) sessionDuration() time.Duration {
	if sm.Duration <= 0 {
		return 7 * 24 * time.Hour
	}
	return sm.Duration
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

func jsonResponse(w http.ResponseWriter, status int, payload any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(payload)
}
