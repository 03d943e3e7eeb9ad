// Command wb-mqtt-db logs MQTT topic values into a local SQLite
// database and answers history/get_values RPC queries over the same
// broker connection, plus optionally over websocket via --rpc-ws.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wirenboard/wb-mqtt-db/internal/config"
	"github.com/wirenboard/wb-mqtt-db/internal/ingest"
	"github.com/wirenboard/wb-mqtt-db/internal/model"
	"github.com/wirenboard/wb-mqtt-db/internal/query"
	"github.com/wirenboard/wb-mqtt-db/internal/rategate"
	"github.com/wirenboard/wb-mqtt-db/internal/registry"
	"github.com/wirenboard/wb-mqtt-db/internal/retention"
	"github.com/wirenboard/wb-mqtt-db/internal/store"
	"github.com/wirenboard/wb-mqtt-db/internal/transport/mqttbus"
	"github.com/wirenboard/wb-mqtt-db/internal/transport/wsrpc"
)

const dataTopicFilter = "/devices/#"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	var host string
	var port int
	var rpcWSAddr string

	cmd := &cobra.Command{
		Use:           "wb-mqtt-db",
		Short:         "Log MQTT channel values and serve history queries",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, host, port, rpcWSAddr)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "configuration file path (required)")
	cmd.Flags().StringVarP(&host, "host", "H", "localhost", "mqtt broker host")
	cmd.Flags().IntVarP(&port, "port", "p", 1883, "mqtt broker port")
	cmd.Flags().StringVar(&rpcWSAddr, "rpc-ws", "", "also serve history/get_values over websocket RPC on this address (e.g. :8088); disabled if empty")
	if err := cmd.MarkFlagRequired("config"); err != nil {
		panic(err)
	}

	return cmd
}

func run(ctx context.Context, configPath, host string, port int, rpcWSAddr string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	st, err := store.Open(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	reg, err := registry.New(ctx, store.RegistryBackend{Store: st})
	if err != nil {
		return fmt.Errorf("seeding identifier registry: %w", err)
	}

	byChannel, err := st.CountByChannel(ctx)
	if err != nil {
		return fmt.Errorf("seeding channel retention counters: %w", err)
	}
	byGroup, err := st.CountByGroup(ctx)
	if err != nil {
		return fmt.Errorf("seeding group retention counters: %w", err)
	}
	counters := retention.New(byChannel, byGroup)
	gate := rategate.New()

	groups, err := buildGroups(ctx, st, cfg)
	if err != nil {
		return err
	}

	ingestor := ingest.New(groups, reg, st, counters, gate, logger)
	queries := query.New(reg, st, logger)
	engine := ingest.NewEngine(ingestor, queries, logger)

	bus, err := mqttbus.New(ctx, mqttbus.Config{Host: host, Port: port}, dataTopicFilter, engine, logger)
	if err != nil {
		return fmt.Errorf("connecting to mqtt broker: %w", err)
	}
	defer bus.Close()
	engine.Start(bus.Dispatcher())

	if rpcWSAddr != "" {
		wsServer := &http.Server{
			Addr:         rpcWSAddr,
			Handler:      wsrpc.New(bus.Dispatcher(), logger),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			if err := wsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("rpc-ws server failed", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = wsServer.Shutdown(shutdownCtx)
		}()
		logger.Info("rpc-ws listening", "addr", rpcWSAddr)
	}

	logger.Info("wb-mqtt-db started", "database", cfg.Database, "broker", fmt.Sprintf("%s:%d", host, port))

	err = engine.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// buildGroups resolves every configured group's stable id and converts
// its configuration into the model.Group the Ingestor matches against.
func buildGroups(ctx context.Context, st *store.Store, cfg *config.Config) ([]model.Group, error) {
	ordered := cfg.OrderedGroups()
	groups := make([]model.Group, 0, len(ordered))
	for _, ng := range ordered {
		id, err := st.EnsureGroup(ctx, ng.Name)
		if err != nil {
			return nil, fmt.Errorf("ensuring group %q: %w", ng.Name, err)
		}
		groups = append(groups, model.Group{
			ID:       id,
			Name:     ng.Name,
			Patterns: ng.Config.Channels,
			Limits: model.GroupLimits{
				Values:               ng.Config.Values,
				ValuesTotal:          ng.Config.ValuesTotal,
				MinInterval:          ng.Config.MinInterval,
				MinUnchangedInterval: ng.Config.MinUnchangedInterval,
			},
		})
	}
	return groups, nil
}
