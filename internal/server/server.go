package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"homeraAi/internal/auth"
	"homeraAi/internal/logging"
	"homeraAi/internal/studio"
	"homeraAi/internal/vision"
)

// Handlers groups everything the router mounts.
type Handlers struct {
	Auth       auth.Handler
	Middleware auth.Middleware
	Studio     studio.Handler
	Vision     vision.Handler
	// Media serves locally stored library images under /media; nil disables it.
	Media      http.Handler
}

// NewRouter builds the chi router with middleware and every route.
func NewRouter(h Handlers) chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(logging.RequestLogger)
	router.Use(middleware.Recoverer)
	router.Use(h.Middleware.InjectUser)

	router.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	router.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", h.Auth.Register)
			r.Post("/login", h.Auth.Login)
			r.Post("/logout", h.Auth.Logout)
			r.Get("/me", h.Auth.Me)
		})
		r.Get("/plans", h.Studio.Plans)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth)

			r.Post("/transform", h.Studio.Transform)
			r.Get("/transform/events", h.Studio.Events)

			r.Route("/library", func(r chi.Router) {
				r.Get("/", h.Studio.ListLibrary)
				r.Post("/", h.Studio.SaveToLibrary)
				r.Delete("/{id}", h.Studio.DeleteFromLibrary)
			})

			r.Route("/account", func(r chi.Router) {
				r.Patch("/", h.Studio.UpdateProfile)
				r.Put("/payment-method", h.Studio.SetPaymentMethod)
				r.Get("/quote", h.Studio.Quote)
				r.Post("/plan", h.Studio.ChangePlan)
				r.Get("/invoices", h.Studio.Invoices)
			})

			r.Route("/vision", func(r chi.Router) {
				r.Post("/interpret", h.Vision.Interpret)
				r.Post("/render", h.Vision.Render)
			})
		})
	})

	if h.Media != nil {
		router.Handle("/media/*", http.StripPrefix("/media/", h.Media))
	}
	return router
}

// New constructs the HTTP server with routes and middleware.
func New(port string, h Handlers) *http.Server {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           NewRouter(h),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		// Renders and the event stream outlive any fixed write deadline.
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().Str("addr", srv.Addr).Msg("server ready")
	return srv
}
