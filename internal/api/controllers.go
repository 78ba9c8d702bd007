package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ramonehamilton/Trade-Companion/internal/api/websocket"
	"github.com/ramonehamilton/Trade-Companion/internal/bot"
	"github.com/ramonehamilton/Trade-Companion/internal/storage"
	"github.com/ramonehamilton/Trade-Companion/internal/web"
)

// BotRegistry resolves hosted bots by name.
type BotRegistry interface {
	Bots() []*bot.Bot
	Bot(name string) (*bot.Bot, bool)
}

// BotController exposes bot state and the connection-manager surface: the
// outer manager pushes session nonces, persona snapshots and connection
// state through these endpoints.
type BotController struct {
	registry BotRegistry
	hub      *websocket.Hub
}

// NewBotController creates the bot controller.
func NewBotController(registry BotRegistry, hub *websocket.Hub) *BotController {
	return &BotController{registry: registry, hub: hub}
}

// Register implements Controller.
func (c *BotController) Register(r chi.Router) {
	r.Route("/bots", func(r chi.Router) {
		r.Get("/", c.listBots)
		r.Route("/{botName}", func(r chi.Router) {
			r.Get("/", c.getBot)
			r.Post("/session", c.pushSession)
			r.Post("/persona", c.pushPersona)
			r.Post("/disconnected", c.markDisconnected)
			r.Post("/match", c.triggerMatch)
		})
	})
}

func (c *BotController) listBots(w http.ResponseWriter, r *http.Request) {
	bots := c.registry.Bots()
	statuses := make([]bot.Status, 0, len(bots))
	for _, b := range bots {
		statuses = append(statuses, b.Status())
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (c *BotController) getBot(w http.ResponseWriter, r *http.Request) {
	b, ok := c.registry.Bot(chi.URLParam(r, "botName"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown bot")
		return
	}
	writeJSON(w, http.StatusOK, b.Status())
}

func (c *BotController) pushSession(w http.ResponseWriter, r *http.Request) {
	b, ok := c.registry.Bot(chi.URLParam(r, "botName"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown bot")
		return
	}

	var body struct {
		Nonce   string `json:"nonce"`
		Limited bool   `json:"limited"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Nonce == "" {
		writeError(w, http.StatusBadRequest, "nonce is required")
		return
	}

	b.SetConnected(true)
	b.SetLimited(body.Limited)
	if err := b.Web().InitSession(r.Context(), web.UniversePublic, body.Nonce, b.ParentalCode()); err != nil {
		writeError(w, http.StatusBadGateway, "session init failed")
		return
	}
	b.OnLoggedOn(r.Context())

	c.hub.BroadcastEvent(websocket.Event{Type: "bot_logged_on", Bot: b.Name()})
	writeJSON(w, http.StatusOK, b.Status())
}

func (c *BotController) pushPersona(w http.ResponseWriter, r *http.Request) {
	b, ok := c.registry.Bot(chi.URLParam(r, "botName"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown bot")
		return
	}

	var body struct {
		Nickname   string `json:"nickname"`
		AvatarHash string `json:"avatar_hash"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid persona payload")
		return
	}

	// The announce path can take several requests; do not hold the IPC
	// client while it runs, and outlive its request context.
	go b.OnPersonaState(context.Background(), body.Nickname, body.AvatarHash)

	w.WriteHeader(http.StatusAccepted)
}

func (c *BotController) markDisconnected(w http.ResponseWriter, r *http.Request) {
	b, ok := c.registry.Bot(chi.URLParam(r, "botName"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown bot")
		return
	}
	b.SetConnected(false)
	c.hub.BroadcastEvent(websocket.Event{Type: "bot_disconnected", Bot: b.Name()})
	writeJSON(w, http.StatusOK, b.Status())
}

func (c *BotController) triggerMatch(w http.ResponseWriter, r *http.Request) {
	b, ok := c.registry.Bot(chi.URLParam(r, "botName"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown bot")
		return
	}
	b.TriggerMatch(context.Background())
	c.hub.BroadcastEvent(websocket.Event{Type: "match_triggered", Bot: b.Name()})
	w.WriteHeader(http.StatusAccepted)
}

// TradesController exposes stored trade history.
type TradesController struct {
	services map[string]*storage.Service
}

// NewTradesController creates the trades controller over per-bot storage.
func NewTradesController(services map[string]*storage.Service) *TradesController {
	return &TradesController{services: services}
}

// Register implements Controller.
func (c *TradesController) Register(r chi.Router) {
	r.Get("/bots/{botName}/trades", c.listTrades)
}

func (c *TradesController) listTrades(w http.ResponseWriter, r *http.Request) {
	service, ok := c.services[chi.URLParam(r, "botName")]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown bot")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	trades, err := service.RecentTrades(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load trades")
		return
	}
	if trades == nil {
		trades = []*storage.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}
