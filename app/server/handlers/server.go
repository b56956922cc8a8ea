package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jonboulle/clockwork"

	"github.com/playmesh/arena-matchmaker/domain/health"
	"github.com/playmesh/arena-matchmaker/domain/heartbeat"
	"github.com/playmesh/arena-matchmaker/domain/queue"
	"github.com/playmesh/arena-matchmaker/domain/registry"
	"github.com/playmesh/arena-matchmaker/domain/tickets"
)

type Server struct {
	router   chi.Router
	queue    *queue.Manager
	repo     *tickets.Repository
	monitor  *heartbeat.Monitor
	checker  *health.RegistryChecker
	registry *registry.Registry
	clock    clockwork.Clock
}

func NewServer(
	queueManager *queue.Manager,
	repo *tickets.Repository,
	monitor *heartbeat.Monitor,
	checker *health.RegistryChecker,
	reg *registry.Registry,
	clock clockwork.Clock,
) *Server {
	s := &Server{
		queue:    queueManager,
		repo:     repo,
		monitor:  monitor,
		checker:  checker,
		registry: reg,
		clock:    clock,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/matchmaking", func(r chi.Router) {
		r.Post("/queue", s.handleEnqueue)
		r.Delete("/queue/{playerID}", s.handleCancel)
		r.Get("/queue/{playerID}", s.handleQueueStatus)
		r.Post("/cooldown/{playerID}", s.handleSetCooldown)
		r.Get("/stats", s.handleStats)
	})
	r.Get("/ws", s.handleWebsocket)

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
