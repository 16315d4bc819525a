// Perpdesk - headless trading desk for dYdX v4 perpetuals
//
// Keeps a trading session bound to one market at a time:
// 1. Stream the market set and account positions from the indexer WebSocket
// 2. Resolve the active market from the route, the last viewed market and the
//    known markets, and redirect when the route is missing or stale
// 3. Persist the choice and keep the order book / trades feeds on that market
// 4. Drive navigation from Telegram commands
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/perpdesk/bot"
	"github.com/web3guy0/perpdesk/internal/config"
	"github.com/web3guy0/perpdesk/internal/database"
	"github.com/web3guy0/perpdesk/internal/feed"
	"github.com/web3guy0/perpdesk/internal/resolver"
	"github.com/web3guy0/perpdesk/internal/route"
	"github.com/web3guy0/perpdesk/internal/session"
	"github.com/web3guy0/perpdesk/internal/store"
)

const version = "1.0.0"

func main() {
	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load environment
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	network, err := db.Get(database.SelectedNetwork, cfg.Network)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read selected network")
	}
	url, ok := cfg.IndexerURL(network)
	if !ok {
		log.Warn().Str("network", network).Msg("Persisted network not configured, using default")
		network = cfg.Network
		url, _ = cfg.IndexerURL(network)
	}

	log.Info().
		Str("version", version).
		Str("network", network).
		Str("default_market", cfg.DefaultMarket).
		Msg("📟 Perpdesk starting...")

	st := store.New(network)
	router := route.NewRouter(route.Trade)

	// ====== FEED ======

	handler := feed.NewHandler(st)
	client := feed.NewClient(url, handler.Handle, cfg.ReconnectDelay)
	if err := client.Subscribe(feed.ChannelMarkets, ""); err != nil {
		log.Fatal().Err(err).Msg("Failed to subscribe to markets")
	}
	if id := cfg.SubaccountID(); id != "" {
		if err := client.Subscribe(feed.ChannelSubaccounts, id); err != nil {
			log.Fatal().Err(err).Msg("Failed to subscribe to subaccount")
		}
		log.Info().Str("subaccount", id).Msg("💼 Tracking subaccount positions")
	}

	switcher := feed.NewNetworkSwitcher(st, db, client, cfg.IndexerURL)
	switcher.RetryDelay = cfg.ReconnectDelay
	switcher.Start(ctx)

	// ====== MARKET SESSION ======

	subscriber := feed.NewMarketSubscriber(client)
	sess := session.New(resolver.New(cfg.DefaultMarket), db, st, router, subscriber)
	if err := sess.Start(); err != nil {
		log.Error().Err(err).Msg("Initial market resolution failed")
	}

	if err := client.Connect(ctx); err != nil {
		// handleDisconnect only covers established connections
		log.Warn().Err(err).Msg("⚠️ Indexer unreachable, retrying in background")
		go retryConnect(ctx, client, cfg.ReconnectDelay)
	}

	// ====== TELEGRAM ======

	var tgBot *bot.TelegramBot
	if cfg.TelegramToken != "" {
		commands := bot.NewCommands(router, st, db, cfg.NetworkNames())
		tgBot, err = bot.NewTelegramBot(cfg.TelegramToken, cfg.TelegramChatID, commands)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to create Telegram bot, continuing without it")
		} else {
			tgBot.Start()
			tgBot.Notify("📟 Perpdesk started on " + network)
		}
	}

	log.Info().Str("location", router.Location()).Msg("✅ Perpdesk running. Press Ctrl+C to stop.")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("Shutting down...")
	cancel()

	sess.Stop()
	switcher.Stop()
	if tgBot != nil {
		tgBot.Stop()
	}
	client.Close()

	log.Info().Msg("Goodbye! 👋")
}

func retryConnect(ctx context.Context, client *feed.Client, delay time.Duration) {
	ticker := time.NewTicker(delay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := client.Connect(ctx); err != nil {
				log.Warn().Err(err).Msg("Indexer reconnect failed")
				continue
			}
			return
		}
	}
}
