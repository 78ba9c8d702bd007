// Command trade-companion hosts game platform accounts, announces them to a
// public matching directory and automatically swaps duplicate inventory
// items with compatible partners.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ramonehamilton/Trade-Companion/internal/api"
	"github.com/ramonehamilton/Trade-Companion/internal/api/websocket"
	"github.com/ramonehamilton/Trade-Companion/internal/bot"
	"github.com/ramonehamilton/Trade-Companion/internal/config"
	"github.com/ramonehamilton/Trade-Companion/internal/limiter"
	"github.com/ramonehamilton/Trade-Companion/internal/matcher"
	"github.com/ramonehamilton/Trade-Companion/internal/storage"
	"github.com/ramonehamilton/Trade-Companion/internal/web"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	// Optional .env for secrets (IPC password, proxy credentials).
	_ = godotenv.Load()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(*configPath, logger); err != nil {
		log.Fatalf("trade-companion: %v", err)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if len(cfg.Accounts) == 0 {
		return fmt.Errorf("no accounts configured")
	}

	db, err := storage.Open(storage.DefaultConfig(cfg.Database.Path))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := storage.Migrate(db.Conn()); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	webLimiter := limiter.New(
		time.Duration(cfg.Global.WebLimiterDelay)*time.Millisecond,
		limiter.DefaultMaxConnections,
		web.HostCommunity, web.HostStore, web.HostHelp, web.HostWebAPI,
	)
	inventorySem := make(chan struct{}, 1)

	var proxy *url.URL
	if cfg.Global.WebProxy != "" {
		proxy, err = url.Parse(cfg.Global.WebProxy)
		if err != nil {
			return fmt.Errorf("parse web proxy: %w", err)
		}
	}

	directory := matcher.NewDirectory(cfg.Global.StatisticsServer,
		time.Duration(cfg.Global.ConnectionTimeout)*time.Second, logger)

	reg := newRegistry()
	services := make(map[string]*storage.Service, len(cfg.Accounts))

	for i := range cfg.Accounts {
		account := &cfg.Accounts[i]

		prefs, err := account.Preferences()
		if err != nil {
			return err
		}
		types, err := account.ItemTypes()
		if err != nil {
			return err
		}

		b := bot.New(bot.Options{
			Name:                   account.Name,
			SteamID:                account.SteamID,
			ParentalCode:           account.ParentalCode,
			Preferences:            prefs,
			MatchableTypes:         types,
			Blacklist:              account.Blacklist,
			HasMobileAuthenticator: true,
			LoadBalancingDelay:     time.Duration(cfg.Global.LoadBalancingDelay) * time.Second,
			AccountIndex:           i,
			Logger:                 logger,
		})

		webClient, err := web.NewClient(b, web.Options{
			Timeout:            time.Duration(cfg.Global.ConnectionTimeout) * time.Second,
			Proxy:              proxy,
			Limiter:            webLimiter,
			InventorySemaphore: inventorySem,
			InventoryDelay:     time.Duration(cfg.Global.InventoryLimiterDelay) * time.Second,
			Logger:             logger.With("bot", account.Name),
		})
		if err != nil {
			return fmt.Errorf("create web client for %q: %w", account.Name, err)
		}

		service := storage.NewService(db, account.SteamID)
		services[account.Name] = service

		announcer := matcher.NewAnnouncer(b, webClient, directory, cfg.Global.GroupID, logger.With("bot", account.Name))
		active := matcher.NewActiveMatcher(b, webClient, directory, announcer, nil, service, logger.With("bot", account.Name))

		b.Attach(webClient, announcer, active)
		reg.add(b)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, b := range reg.Bots() {
		b.Start(ctx)
	}

	var server *api.Server
	if cfg.IPC.Enabled {
		hub := websocket.NewHub()
		server = api.NewServer(api.Config{Port: cfg.IPC.Port, Password: cfg.IPC.Password}, hub,
			api.NewBotController(reg, hub),
			api.NewTradesController(services),
		)
		if err := server.Start(); err != nil {
			return fmt.Errorf("start IPC server: %w", err)
		}
	}

	watcher, err := config.NewWatcher(configPath, func(updated *config.Config) {
		logger.Info("configuration changed; restart to apply account changes")
	}, logger)
	if err != nil {
		logger.Warn("config watcher unavailable", "error", err)
	} else {
		defer watcher.Stop()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	cancel()
	for _, b := range reg.Bots() {
		b.Stop()
	}
	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("IPC shutdown failed", "error", err)
		}
	}
	return nil
}

// registry indexes hosted bots by name.
type registry struct {
	order  []*bot.Bot
	byName map[string]*bot.Bot
}

func newRegistry() *registry {
	return &registry{byName: make(map[string]*bot.Bot)}
}

func (r *registry) add(b *bot.Bot) {
	r.order = append(r.order, b)
	r.byName[b.Name()] = b
}

// Bots implements api.BotRegistry.
func (r *registry) Bots() []*bot.Bot {
	return r.order
}

// Bot implements api.BotRegistry.
func (r *registry) Bot(name string) (*bot.Bot, bool) {
	b, ok := r.byName[name]
	return b, ok
}
