package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/znz-systems/mailpilot/internal/auth"
	"github.com/znz-systems/mailpilot/internal/logging"
	"github.com/znz-systems/mailpilot/internal/ratelimit"
	"github.com/znz-systems/mailpilot/internal/web/handlers"
	"github.com/znz-systems/mailpilot/internal/web/middleware"
)

// RouterDeps holds all dependencies needed to build the router.
type RouterDeps struct {
	AccountHandler   *handlers.AccountHandler
	EmailHandler     *handlers.EmailHandler
	AutoReplyHandler *handlers.AutoReplyHandler
	OAuthHandler     *handlers.OAuthHandler // nil when the provider has no OAuth flow
	Admin            *auth.Admin
	Limiter          *ratelimit.Limiter
}

// NewRouter wires all routes into a Chi router.
func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chiMiddleware.RealIP)
	r.Use(logging.RequestID)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RateLimit(deps.Limiter))

		// Reached by the provider redirect, so it carries no admin credentials.
		if deps.OAuthHandler != nil {
			r.Get("/auth/callback", deps.OAuthHandler.HandleCallback)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin(deps.Admin))
			r.Use(middleware.RequireJSON)

			r.Get("/account", deps.AccountHandler.HandleGet)
			r.Patch("/account", deps.AccountHandler.HandlePatch)
			r.Delete("/account", deps.AccountHandler.HandleDelete)

			r.Get("/emails", deps.EmailHandler.HandleList)
			r.Post("/drafts", deps.EmailHandler.HandleDraft)
			r.Post("/send", deps.EmailHandler.HandleSend)

			r.Post("/auto-reply", deps.AutoReplyHandler.HandleAutoReply)

			if deps.OAuthHandler != nil {
				r.Get("/auth/url", deps.OAuthHandler.HandleAuthURL)
			}
		})
	})

	return r
}
