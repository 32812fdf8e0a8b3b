package delivery

import (
	"github.com/Vovarama1992/voicejournal/internal/ports"
	"github.com/go-chi/chi/v5"
)

func RegisterRoutes(r chi.Router, hAuth *AuthHandler, auth ports.AuthService, hSessions *SessionHandler) {

	// public
	r.Post("/api/register", hAuth.Register)
	r.Post("/api/login", hAuth.Login)

	// session history, token required
	r.With(AuthMiddleware(auth)).Get("/api/sessions", hSessions.List)
}
