package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"foursight.local/orchestrator/internal/config"
	dbpkg "foursight.local/orchestrator/internal/db"
	"foursight.local/orchestrator/internal/dispatch"
	"foursight.local/orchestrator/internal/httpapi"
	"foursight.local/orchestrator/internal/invoke"
	"foursight.local/orchestrator/internal/model"
	"foursight.local/orchestrator/internal/orchestrator"
	"foursight.local/orchestrator/internal/ranker"
	"foursight.local/orchestrator/internal/session"
	"foursight.local/orchestrator/internal/subscribers"
	"foursight.local/orchestrator/internal/subscribers/jsonl"
	logging "foursight.local/orchestrator/internal/subscribers/logging"
	"foursight.local/orchestrator/internal/subscribers/webhook"
	"foursight.local/orchestrator/internal/synth"
	"foursight.local/orchestrator/internal/worker"
)

var logPayloads bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator HTTP server",
	Long: `Start the orchestrator: session store, framework workers, ranker and
synthesizer behind the REST and websocket API.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&logPayloads, "log-payloads", false, "include event payloads in the event log lines")
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := newLogger()
	catalog := worker.DefaultCatalog()

	cfg, err := config.ServerFromYAMLAndEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.ApplyWorkerEnv(catalog.IDs())
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for _, w := range cfg.Workers {
		catalog.Upsert(worker.Framework{ID: w.ID, Description: w.Description})
	}

	registry := model.NewRegistry()
	if providers := registry.RegisterFromKeys(cfg.AnthropicAPIKey, cfg.OpenAIAPIKey); len(providers) > 0 {
		logger.Printf("model providers registered providers=%s", strings.Join(providers, ","))
	}

	hub := httpapi.NewHub()
	subs, closeSubs, err := buildSubscribers(logger, cfg, hub)
	if err != nil {
		return err
	}
	defer closeSubs()
	dispatcher := dispatch.New(logger, subs)
	defer dispatcher.Wait()

	openDurable := func(driver, dsn string) (session.Store, error) {
		return session.NewGormStore(driver, dsn, dbpkg.WithLogger(logger))
	}
	store, storeName := openStore(logger, cfg, orchestrator.DegradedHook(dispatcher), openDurable)
	defer func() {
		if err := store.Close(); err != nil {
			logger.Printf("store close error: %v", err)
		}
	}()

	workers, remote, err := buildWorkerClient(logger, cfg, registry, catalog)
	if err != nil {
		return err
	}
	if len(remote) > 0 {
		probeWorkers(logger, cfg)
	}

	rk, err := buildRanker(cfg, registry, catalog)
	if err != nil {
		return err
	}
	sy, err := buildSynthesizer(cfg, registry)
	if err != nil {
		return err
	}

	inv := invoke.New(logger, workers,
		invoke.WithTimeout(cfg.WorkerTimeout),
		invoke.WithMaxParallel(cfg.MaxParallel),
		invoke.WithObserver(slowCallObserver(logger, cfg.WorkerTimeout/2)),
	)

	ctrl, err := orchestrator.New(logger, orchestrator.Deps{
		Store:       store,
		Ranker:      rk,
		Invoker:     inv,
		Synthesizer: sy,
		Catalog:     catalog,
		Dispatcher:  dispatcher,
	}, orchestrator.Config{
		SelectionSize:                cfg.SelectionSize,
		DefaultSelection:             cfg.DefaultSelection,
		RequireSelectionConfirmation: cfg.RequireSelectionConfirmation,
		DefaultConfidence:            cfg.DefaultConfidence,
		SessionQueueSize:             cfg.SessionQueueSize,
	})
	if err != nil {
		return fmt.Errorf("build controller: %w", err)
	}

	srv := httpapi.NewServer(logger, cfg.HTTPAddr, ctrl,
		httpapi.WithHub(hub),
		httpapi.WithRemoteWorkers(remote),
		httpapi.WithStoreName(storeName),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Printf("listening on %s store=%s remote_workers=%d", cfg.HTTPAddr, storeName, len(remote))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server crashed: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("server shutdown error: %v", err)
	}
	return nil
}

func buildSubscribers(logger *log.Logger, cfg config.ServerConfig, hub *httpapi.Hub) ([]subscribers.Subscriber, func(), error) {
	var loggingOpts []logging.Option
	if logPayloads {
		loggingOpts = append(loggingOpts, logging.WithPayloads())
	}
	subs := []subscribers.Subscriber{logging.New(logger, loggingOpts...), hub}
	for idx, webhookURL := range cfg.WebhookURLs {
		subs = append(subs, webhook.New(webhookSubscriberName(idx, webhookURL), webhookURL, logger, webhook.WithSecret(cfg.WebhookSecret)))
	}

	closeFn := func() {}
	if path := strings.TrimSpace(cfg.EventLogPath); path != "" {
		eventLog, err := jsonl.Open(path)
		if err != nil {
			return nil, nil, fmt.Errorf("open event log: %w", err)
		}
		subs = append(subs, eventLog)
		closeFn = func() {
			if err := eventLog.Close(); err != nil {
				logger.Printf("event log close error: %v", err)
			}
		}
	}
	return subs, closeFn, nil
}

func webhookSubscriberName(index int, webhookURL string) string {
	parsed, err := url.Parse(webhookURL)
	if err == nil {
		host := strings.TrimSpace(parsed.Host)
		if host != "" {
			return host
		}
	}
	return fmt.Sprintf("webhook-%d", index+1)
}

// openStore returns the mirrored session store. The durable backend is
// skipped for the memory driver. When it can't be opened the server still
// starts on the mirror alone and reports the store as degraded.
func openStore(logger *log.Logger, cfg config.ServerConfig, onDegraded func(sessionID, op string, err error), openDurable func(driver, dsn string) (session.Store, error)) (*session.MirrorStore, string) {
	hook := session.WithDegradedHook(onDegraded)
	if cfg.DBDriver == "memory" {
		return session.NewMirrorStore(nil, logger, hook), "memory"
	}
	durable, err := openDurable(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		logger.Printf("session store open failed driver=%s err=%v; continuing in memory", dbpkg.NormalizeDriver(cfg.DBDriver), err)
		if onDegraded != nil {
			onDegraded("", "open", err)
		}
		return session.NewMirrorStore(nil, logger, hook), "memory (degraded)"
	}
	return session.NewMirrorStore(durable, logger, hook), dbpkg.NormalizeDriver(cfg.DBDriver)
}

// slowCallObserver logs worker calls that succeeded but took longer than
// threshold. Failures are already logged by the invoker.
func slowCallObserver(logger *log.Logger, threshold time.Duration) func(invoke.Outcome, worker.Mode) {
	return func(out invoke.Outcome, mode worker.Mode) {
		if out.Err != nil || threshold <= 0 || out.Duration < threshold {
			return
		}
		logger.Printf("worker call slow worker=%s mode=%s duration=%s", out.WorkerID, mode, out.Duration)
	}
}

// buildWorkerClient routes workers with a configured URL over HTTP and
// serves the rest from the worker model, when one is set. It returns the
// ids served over HTTP.
func buildWorkerClient(logger *log.Logger, cfg config.ServerConfig, registry *model.Registry, catalog *worker.Catalog) (worker.Client, []string, error) {
	var fallback worker.Client
	if strings.TrimSpace(cfg.WorkerModel) != "" {
		provider, ref, err := registry.Resolve(cfg.WorkerModel)
		if err != nil {
			return nil, nil, fmt.Errorf("worker model: %w", err)
		}
		var opts []worker.ModelClientOption
		if cfg.KnowledgeDir != "" {
			opts = append(opts, worker.WithKnowledgeDir(cfg.KnowledgeDir))
		}
		fallback = worker.NewModelClient(logger, provider, ref.Model, catalog, opts...)
	}

	router := worker.NewRouter(fallback)
	endpoints := cfg.WorkerEndpoints()
	if len(endpoints) > 0 {
		list := make([]worker.Endpoint, 0, len(endpoints))
		for id, baseURL := range endpoints {
			list = append(list, worker.Endpoint{WorkerID: id, BaseURL: baseURL})
		}
		remote := worker.NewHTTPClient(logger, list)
		for _, id := range remote.WorkerIDs() {
			router.Route(id, remote)
		}
	}

	remote := make([]string, 0, len(endpoints))
	for id := range endpoints {
		remote = append(remote, id)
	}
	sort.Strings(remote)

	if fallback == nil {
		var missing []string
		for _, id := range catalog.IDs() {
			if _, ok := endpoints[id]; !ok {
				missing = append(missing, id)
			}
		}
		if len(missing) > 0 {
			logger.Printf("no worker model configured; these frameworks will fail when selected workers=%s", strings.Join(missing, ","))
		}
	}
	return router, remote, nil
}

func probeWorkers(logger *log.Logger, cfg config.ServerConfig) {
	list := make([]worker.Endpoint, 0)
	for id, baseURL := range cfg.WorkerEndpoints() {
		list = append(list, worker.Endpoint{WorkerID: id, BaseURL: baseURL})
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	healthy := worker.NewHTTPClient(logger, list).Probe(ctx)
	logger.Printf("worker probe healthy=%d configured=%d", len(healthy), len(list))
}

// buildRanker prefers the ranking service, then the ranker model. With
// neither, ranking is unavailable and sessions use the default selection.
func buildRanker(cfg config.ServerConfig, registry *model.Registry, catalog *worker.Catalog) (ranker.Ranker, error) {
	if cfg.RankerURL != "" {
		return ranker.NewHTTPRanker(cfg.RankerURL, catalog), nil
	}
	if strings.TrimSpace(cfg.RankerModel) != "" {
		provider, ref, err := registry.Resolve(cfg.RankerModel)
		if err != nil {
			return nil, fmt.Errorf("ranker model: %w", err)
		}
		return ranker.NewModelRanker(provider, ref.Model, catalog), nil
	}
	return ranker.Unconfigured{}, nil
}

func buildSynthesizer(cfg config.ServerConfig, registry *model.Registry) (synth.Synthesizer, error) {
	provider, ref, err := registry.Resolve(cfg.SynthesisModel)
	if err != nil {
		return nil, fmt.Errorf("synthesis model (%s): %w", config.EnvSynthesisModel, err)
	}
	return synth.NewModelSynthesizer(provider, ref.Model), nil
}
