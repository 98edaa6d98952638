package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/openclaw/crm-sync-server/internal/config"
	"github.com/openclaw/crm-sync-server/internal/middleware"
)

type RouterDeps struct {
	Health          *HealthHandler
	Auth            *AuthHandler
	Users           *UsersHandler
	Sync            *SyncHandler
	AuthMiddleware  *middleware.AuthMiddleware
	LoginRateLimit  *middleware.IPRateLimitMiddleware
	SecurityHeaders *middleware.SecurityHeadersMiddleware
	BodyLimit       *middleware.BodyLimitMiddleware
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(d.BodyLimit.Handler)
	r.Use(d.SecurityHeaders.Handler)

	r.Get("/", d.Health.Banner)
	r.Get("/health", d.Health.Health)

	r.Route("/api", func(r chi.Router) {
		r.With(d.LoginRateLimit.Handler).Post("/login", d.Auth.Login)

		r.Group(func(r chi.Router) {
			r.Use(d.AuthMiddleware.Handler)
			r.Mount("/users", d.Users.Routes())
			r.Mount("/sync", d.Sync.Routes())
			r.Post("/logout", d.Auth.Logout)
			r.Get("/me", d.Auth.Me)
			r.Post("/me/password", d.Auth.ChangePassword)
		})
	})

	return r
}
