// Package api is the local HTTP/WebSocket front-end exposing the daemon to
// IPC clients. Controllers are registered explicitly; there is no handler
// discovery.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ramonehamilton/Trade-Companion/internal/api/websocket"
)

// Controller registers a group of routes on the router.
type Controller interface {
	Register(r chi.Router)
}

// Config holds configuration for the IPC server.
type Config struct {
	// Port to listen on, loopback only.
	Port int

	// Password enables the auth middleware when non-empty. Bcrypt hashes
	// (the "$2" prefix) are verified as hashes, anything else compares in
	// constant time.
	Password string
}

// Server is the IPC HTTP server.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	hub        *websocket.Hub
	config     Config
}

// NewServer creates the IPC server with an explicit list of controllers.
// The hub may be shared with components that broadcast events; nil creates a
// private one.
func NewServer(config Config, hub *websocket.Hub, controllers ...Controller) *Server {
	if hub == nil {
		hub = websocket.NewHub()
	}
	s := &Server{
		router: chi.NewRouter(),
		hub:    hub,
		config: config,
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods: []string{"GET", "POST", "DELETE"},
		AllowedHeaders: []string{"Authentication", "Content-Type"},
	}))

	s.router.Get("/health", s.healthCheck)

	s.router.Group(func(r chi.Router) {
		if config.Password != "" {
			r.Use(authMiddleware(config.Password))
		}
		r.Get("/ws", s.hub.ServeWs)
		r.Route("/api/v1", func(r chi.Router) {
			for _, controller := range controllers {
				controller.Register(r)
			}
		})
	})

	return s
}

// Hub returns the event hub so components can broadcast.
func (s *Server) Hub() *websocket.Hub {
	return s.hub
}

// Start begins serving on the loopback interface. Non-blocking.
func (s *Server) Start() error {
	go s.hub.Run()

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("IPC server error: %v", err)
		}
	}()

	log.Printf("IPC server listening on %s", s.httpServer.Addr)
	return nil
}

// Shutdown stops the server and the event hub.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Stop()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.hub.ClientCount(),
	})
}
