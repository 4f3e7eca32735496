package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jason-s-yu/arena/internal/auth"
	"github.com/jason-s-yu/arena/internal/middleware"
	"github.com/sirupsen/logrus"
)

// NewRouter wires the battle endpoints behind CORS, request logging and role checks.
func NewRouter(sessions Sessions, authn middleware.Authenticator, allowedOrigins []string, logger logrus.FieldLogger) http.Handler {
	h := NewBattleHandlers(sessions, originHosts(allowedOrigins), logger)

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.Heartbeat("/ping"))
	r.Use(middleware.LogMiddleware(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/battle", func(r chi.Router) {
		r.Use(middleware.RequireRole(authn, logger, auth.RoleUser, auth.RoleAdministrator))
		r.Get("/direct/ws", h.DirectWSHandler())
		r.Get("/ranked/ws", h.RankedWSHandler())
		r.Get("/play/ws", h.PlayWSHandler())
	})
	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.RequireRole(authn, logger, auth.RoleAdministrator))
		r.Post("/battles/reset", h.ResetHandler())
	})
	return r
}

// originHosts turns CORS origins into the host patterns the WebSocket upgrade checks.
func originHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimPrefix(strings.TrimPrefix(o, "https://"), "http://")
		if o != "" {
			hosts = append(hosts, o)
		}
	}
	return hosts
}
