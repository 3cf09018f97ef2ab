package http

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/wandertour/identity/internal/auth"
	"github.com/wandertour/identity/internal/http/handlers"
	"github.com/wandertour/identity/internal/middleware"
	"github.com/wandertour/identity/internal/repo"
)

// NewRouter creates the HTTP router with all routes configured
func NewRouter(authHandler *handlers.AuthHandler, jwtService *auth.JWTService, userRepo repo.UserRepo) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	healthHandler := handlers.NewHealthHandler()
	r.Get("/health", healthHandler.ServeHTTP)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/otp/request", authHandler.HandleRequestCode)
		r.Post("/register", authHandler.HandleRegister)
		r.Post("/login", authHandler.HandleLogin)
		r.Get("/exists", authHandler.HandleExists)
		r.Post("/forgot/verify", authHandler.HandleForgotVerify)
		r.Post("/refresh", authHandler.HandleRefresh)
		r.Post("/logout", authHandler.HandleLogout)
	})

	// Protected routes (require valid bearer token)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(jwtService, userRepo))
		r.Get("/me", authHandler.HandleMe)
	})

	return r
}
