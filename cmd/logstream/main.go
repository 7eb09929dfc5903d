package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	internalcommon "github.com/ethergo-sdk/logstream/internal/common"
	"github.com/ethergo-sdk/logstream/internal/logger"
	"github.com/ethergo-sdk/logstream/internal/metrics"
	"github.com/ethergo-sdk/logstream/internal/rpc"
	"github.com/ethergo-sdk/logstream/internal/source"
	"github.com/ethergo-sdk/logstream/pkg/config"
	"github.com/ethergo-sdk/logstream/pkg/events"
	"github.com/ethergo-sdk/logstream/pkg/filter"
	"github.com/ethergo-sdk/logstream/pkg/listener"
)

const version = "1.0.0"

var (
	configPath string
	address    string
	topics     []string
	finalOnly  bool
	forcePoll  bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "logstream",
	Short: "logstream - reorg-aware ledger event watcher",
	Long: `logstream watches a ledger node for records matching a filter and prints
each classified event (pending, confirmed, removed, reorganized) until
interrupted. It is a developer utility over the logstream library.`,
	Version: version,
	RunE:    runWatch,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	rootCmd.Flags().StringVarP(&address, "address", "a", "", "contract address to watch (all addresses when empty)")
	rootCmd.Flags().StringSliceVarP(&topics, "topic", "t", nil, "topic constraint per position, in order ('*' for any)")
	rootCmd.Flags().BoolVar(&finalOnly, "final-only", false, "print only terminal confirmed/removed notifications")
	rootCmd.Flags().BoolVar(&forcePoll, "poll", false, "force poll mode even on a push-capable transport")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nShutting down...")
		cancel()
	}()

	var logCfg logger.LoggingConfig
	if cfg.Logging != nil {
		logCfg = cfg.Logging
	}
	log := logger.NewComponentLoggerFromConfig(internalcommon.ComponentListener, logCfg)
	defer log.Close()

	f, err := buildFilter()
	if err != nil {
		return err
	}

	log.Infow("connecting to node", "url", cfg.Node.RPCURL)
	client, err := rpc.NewClient(ctx, cfg.Node.RPCURL, &cfg.Node)
	if err != nil {
		return fmt.Errorf("failed to create RPC client: %w", err)
	}

	src := source.New(client, source.Config{
		ChunkSize:      cfg.Node.ChunkSize,
		DedupCacheSize: cfg.Watcher.DedupCacheSize,
	}, log)

	registry := listener.New(src, cfg.Watcher, log)
	defer registry.Dispose()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics, log)
		if err := metricsServer.Start(gctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		g.Go(func() error {
			<-gctx.Done()
			return metricsServer.Stop(context.Background())
		})
	}

	mode := listener.ModeAuto
	if forcePoll {
		mode = listener.ModePoll
	}

	handle, err := registry.Register(f, printEvent, listener.Options{
		Mode:      mode,
		FinalOnly: finalOnly,
		OnError: func(h listener.Handle, err error) {
			log.Errorw("registration failed", "handle", h, "err", err)
			cancel()
		},
		OnWarning: func(h listener.Handle, err error) {
			log.Warnw("transient error", "handle", h, "err", err)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to register watch: %w", err)
	}

	log.Infow("watching", "handle", handle, "filter", f.Key())

	<-ctx.Done()
	if err := g.Wait(); err != nil {
		return err
	}
	log.Infow("stopped")
	return nil
}

func buildFilter() (filter.Filter, error) {
	var opts []filter.Option
	if address != "" {
		if !common.IsHexAddress(address) {
			return filter.Filter{}, fmt.Errorf("invalid address: %s", address)
		}
		opts = append(opts, filter.WithAddress(common.HexToAddress(address)))
	}
	if len(topics) > 0 {
		constraints := make([]filter.TopicConstraint, 0, len(topics))
		for _, t := range topics {
			if t == "*" {
				constraints = append(constraints, filter.AnyTopic())
				continue
			}
			constraints = append(constraints, filter.Topic(common.HexToHash(t)))
		}
		opts = append(opts, filter.WithTopics(constraints...))
	}
	return filter.New(opts...)
}

func printEvent(ev events.Event) {
	fmt.Println(ev.String())
}
