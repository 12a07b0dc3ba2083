// streamwatch connects to the Moment realtime stream and prints dispatched
// events to the console.
// Usage: go run ./cmd/streamwatch --config configs/client.local.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/karavansky/moment-realtime/internal/config"
	"github.com/karavansky/moment-realtime/internal/frame"
	"github.com/karavansky/moment-realtime/internal/identity"
	"github.com/karavansky/moment-realtime/internal/realtime"
	"github.com/karavansky/moment-realtime/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/client.example.yaml", "path to config file")
	topics := flag.String("topics", "all_messages", "comma-separated topics to subscribe")
	verbose := flag.Bool("verbose", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))

	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ids := identity.NewStore(cfg.Identity.Path)
	creds, err := ids.Load()
	if err != nil {
		logger.Error("no persisted identity, log in first", "path", cfg.Identity.Path, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	bus := realtime.NewBus(cfg.Redis, creds.Identity, logger)
	svc := realtime.NewService(cfg, ids, bus, logger)

	if err := svc.Start(ctx); err != nil {
		logger.Error("failed to start realtime service", "error", err)
		os.Exit(1)
	}
	defer svc.Stop()

	for _, topic := range strings.Split(*topics, ",") {
		if topic = strings.TrimSpace(topic); topic != "" {
			svc.Subscribe(topic)
		}
	}

	kinds := []frame.EventKind{
		frame.EventPresenceChanged,
		frame.EventGaugeChanged,
		frame.EventMessageReceived,
		frame.EventConnectionState,
	}
	for _, kind := range kinds {
		ch, cancelSub := svc.Events(kind)
		defer cancelSub()
		go printEvents(ctx, ch)
	}

	logger.Info("streamwatch running",
		"version", version.String(),
		"identity", creds.Identity,
		"topics", *topics,
	)
	<-ctx.Done()
}

func printEvents(ctx context.Context, ch <-chan frame.DomainEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			switch ev.Kind {
			case frame.EventMessageReceived:
				own := ""
				if ev.IsOwn {
					own = " (own)"
				}
				fmt.Printf("[%s] %s%s: %s\n", ev.ChatKind, ev.Subject, own, ev.Payload)
			default:
				fmt.Printf("[%s] %s -> %s\n", ev.Kind, ev.Subject, ev.Payload)
			}
		}
	}
}
