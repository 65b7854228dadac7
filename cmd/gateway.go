package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"signalclaw/pkg/bus"
	"signalclaw/pkg/channel"
	signalch "signalclaw/pkg/channel/signal"
	"signalclaw/pkg/channel/telegram"
	"signalclaw/pkg/chats"
	"signalclaw/pkg/config"
	"signalclaw/pkg/gateway"
	"signalclaw/pkg/logger"
	"signalclaw/pkg/relay"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run channel gateway mode",
	Long:  "Runs SignalClaw as a channel gateway with health, readiness, metrics and chat discovery endpoints.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, err := config.LoadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}

		appLogger, err := logger.New(cfg.Logging)
		if err != nil {
			fmt.Printf("failed to initialize logger: %v\n", err)
			return
		}
		slog.SetDefault(appLogger)

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := runGateway(runCtx, cfg, appLogger); err != nil {
			logger.Component(appLogger, "cmd.gateway").Error("Gateway runtime failed", "error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
}

// runGateway wires the store, relay and channels into one service and runs it
// until ctx is cancelled.
func runGateway(ctx context.Context, cfg *config.Config, base *slog.Logger) error {
	log := logger.Component(base, "cmd.gateway")

	store, err := chats.Open(cfg.Store.Path, base)
	if err != nil {
		return err
	}
	defer store.Close()

	registry, err := chats.NewRegistry(store)
	if err != nil {
		return err
	}

	messageBus := bus.NewMessageBus()
	defer messageBus.Close()

	deps := gateway.Dependencies{Bus: messageBus, Store: store, Registry: registry}
	if cfg.Relay.URL != "" {
		assistant, err := relay.Dial(ctx, cfg.Relay, base)
		if err != nil {
			return fmt.Errorf("connect assistant relay: %w", err)
		}
		defer assistant.Close()
		deps.Relay = assistant
	}

	svc, err := gateway.NewService(cfg, deps, base)
	if err != nil {
		return fmt.Errorf("initialize gateway service: %w", err)
	}

	channels, err := enabledChannels(cfg, svc.CallbacksFor, base)
	if err != nil {
		return fmt.Errorf("gateway configuration invalid: %w", err)
	}
	for _, ch := range channels {
		svc.AddChannel(ch)
	}

	log.Info("Gateway started", "channels", enabledChannelNames(channels), "relay", cfg.Relay.URL != "", "registered", len(registry.Snapshot()))
	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	log.Info("Gateway stopped")
	return nil
}

func enabledChannels(cfg *config.Config, callbacksFor func(name string) channel.Callbacks, log *slog.Logger) ([]channel.Channel, error) {
	channels := make([]channel.Channel, 0, 2)

	if cfg.Channels.Signal.Enabled {
		adapter, err := signalch.NewAdapter(cfg.Channels.Signal, callbacksFor("signal"), log)
		if err != nil {
			return nil, fmt.Errorf("configure signal channel: %w", err)
		}
		channels = append(channels, adapter)
	}

	if cfg.Channels.Telegram.Enabled {
		adapter, err := telegram.NewAdapter(cfg.Channels.Telegram, callbacksFor("telegram"), log)
		if err != nil {
			return nil, fmt.Errorf("configure telegram channel: %w", err)
		}
		channels = append(channels, adapter)
	}

	if len(channels) == 0 {
		return nil, errors.New("no channels are enabled")
	}

	return channels, nil
}

func enabledChannelNames(channels []channel.Channel) string {
	names := make([]string, 0, len(channels))
	for _, ch := range channels {
		names = append(names, ch.Name())
	}

	return strings.Join(names, ",")
}
