package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"arbflow/internal/api"
	"arbflow/internal/config"
	"arbflow/internal/confirm"
	"arbflow/internal/gateway"
	"arbflow/internal/metrics"
	"arbflow/internal/ocr"
	"arbflow/internal/pipeline"
	"arbflow/internal/scheduler"
	"arbflow/internal/store"
)

func main() {
	if err := buildCLI().Execute(); err != nil {
		os.Exit(1)
	}
}

func buildCLI() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:           "arbflow",
		Short:         "P2P payout arbitrage pipeline",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "arbflow.yaml", "config file path")

	load := func(cmd *cobra.Command) (config.Config, error) {
		return config.Load(configFile, cmd.Flags().Changed("config"))
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler, pipeline and control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			setupLogging(cfg)
			return run(cfg)
		},
	}

	snapshotCmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Print the persisted scheduler snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			snap, ok, err := scheduler.NewSnapshotStore(cfg.Scheduler.StatePath).Load()
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no snapshot at %s", cfg.Scheduler.StatePath)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		},
	}

	var count int
	cronCmd := &cobra.Command{
		Use:   "cron-next <expr>",
		Short: "Print the next firing times of a cron expression",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			times, err := scheduler.NextRunTimes(args[0], time.Now(), count)
			if err != nil {
				return err
			}
			for _, t := range times {
				fmt.Fprintln(cmd.OutOrStdout(), t.Local().Format(time.RFC3339))
			}
			return nil
		},
	}
	cronCmd.Flags().IntVarP(&count, "count", "n", 5, "number of firing times")

	root.AddCommand(runCmd, snapshotCmd, cronCmd)
	return root
}

func setupLogging(cfg config.Config) {
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.Log.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func run(cfg config.Config) error {
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	repo := store.NewSQLiteRepo(db)

	client := gateway.NewHTTPClient(cfg.Gateway.BaseURL, cfg.Gateway.Token,
		gateway.NewLimiter(cfg.Gateway.Requests, cfg.Gateway.Window), cfg.Gateway.Timeout)

	deps := pipeline.Deps{
		Store:   repo,
		Payouts: client,
		P2P:     client,
		Confirm: confirm.NewConsole(os.Stdin, os.Stdout),
	}
	if cfg.Gateway.Mailbox {
		deps.Mailbox = client
		deps.Parser = ocr.Command{Path: cfg.OCR.Command, Args: cfg.OCR.Args, Timeout: cfg.OCR.Timeout}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)
	deps.Observer = collector

	settings, err := pipelineSettings(cfg)
	if err != nil {
		return err
	}
	coord, err := pipeline.New(deps, settings)
	if err != nil {
		return err
	}

	engine := scheduler.New(engineOptions(cfg))
	detach := collector.Attach(engine)
	defer detach()

	if err := coord.Register(engine); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// templates follow the config on every start
	if err := coord.SeedTemplates(ctx, cfg.Templates()); err != nil {
		return err
	}
	if err := engine.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize scheduler: %w", err)
	}
	if err := engine.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	log.Info().Str("name", engine.Name()).Int("tasks", len(engine.Tasks())).
		Bool("manual", engine.Shared().Bool(pipeline.KeyManualMode)).
		Bool("mailbox", cfg.Gateway.Mailbox).Msg("scheduler started")

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: api.NewServer(engine, repo, reg, api.Options{Debug: cfg.HTTPDebug})}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")

	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)

	if err := engine.Stop(); err != nil {
		log.Error().Err(err).Msg("stop scheduler")
		return err
	}
	return nil
}

// engineOptions seeds manual mode from the config. A value set in the file or
// the environment wins over the one saved in the snapshot.
func engineOptions(cfg config.Config) scheduler.Options {
	manual, set := cfg.ManualMode()
	opts := scheduler.Options{
		Name:               cfg.Scheduler.Name,
		Context:            map[string]any{pipeline.KeyManualMode: manual},
		StatePath:          cfg.Scheduler.StatePath,
		MaxConcurrentTasks: cfg.Scheduler.MaxConcurrentTasks,
		CheckpointInterval: cfg.Scheduler.CheckpointInterval,
		ShutdownGrace:      cfg.Scheduler.ShutdownGrace,
		TickInterval:       cfg.Scheduler.TickInterval,
	}
	if set {
		opts.Pinned = []string{pipeline.KeyManualMode}
	}
	return opts
}

func pipelineSettings(cfg config.Config) (pipeline.Settings, error) {
	s := pipeline.DefaultSettings()
	price, err := cfg.Price()
	if err != nil {
		return s, err
	}
	tol, err := cfg.Tolerance()
	if err != nil {
		return s, err
	}
	p := cfg.Pipeline
	s.Asset = p.Asset
	s.Price = price
	s.AutoFund = p.AutoFund
	if p.PaymentMessage != "" {
		s.PaymentMessage = p.PaymentMessage
	}
	s.HoldDelay = p.HoldDelay
	s.ReceiptTolerance = tol
	s.ReceiptRetention = p.ReceiptRetention
	s.RunOnStart = p.RunOnStart
	s.AcceptorEvery = p.Intervals.Acceptor
	s.AdCreatorEvery = p.Intervals.AdCreator
	s.ChatEvery = p.Intervals.ChatListener
	s.ReceiptEvery = p.Intervals.ReceiptListener
	s.ReleaserEvery = p.Intervals.Releaser
	return s, nil
}

var (
	_ gateway.PayoutGateway = (*gateway.HTTPClient)(nil)
	_ gateway.P2PGateway    = (*gateway.HTTPClient)(nil)
	_ gateway.Mailbox       = (*gateway.HTTPClient)(nil)
	_ gateway.ReceiptParser = ocr.Command{}
)
