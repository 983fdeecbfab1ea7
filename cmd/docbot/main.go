package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"docbot/internal/adapters/embedding"
	"docbot/internal/adapters/filewatcher"
	"docbot/internal/adapters/llm"
	"docbot/internal/adapters/loader"
	"docbot/internal/adapters/vectordb"
	"docbot/internal/config"
	"docbot/internal/domain/ports"
	"docbot/internal/domain/usecases"
	httpserver "docbot/internal/infrastructure/http"
	"docbot/internal/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "docbot:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "path to config.yaml")
		ingestOnly = flag.Bool("ingest", false, "ingest the data directory and exit")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	log, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = observability.WithLogger(ctx, log)

	index, err := vectordb.NewSQLiteIndex(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening vector index: %w", err)
	}
	defer index.Close()

	embedder, err := buildEmbedder(ctx, cfg)
	if err != nil {
		return err
	}

	docs := loader.NewMarkdownLoader()
	ingestor := usecases.NewIngestor(docs, embedder, index, 1000, 200)

	if *ingestOnly {
		n, err := ingestor.IngestDir(ctx, cfg.DataDir)
		if err != nil {
			return fmt.Errorf("ingesting %s: %w", cfg.DataDir, err)
		}
		log.Info("ingestion complete", zap.String("dir", cfg.DataDir), zap.Int("chunks", n))
		return nil
	}

	client := llm.NewOpenAIClient(cfg.LLMBaseURL, cfg.LLMAPIKey)
	invoker := usecases.NewModelInvoker(client, cfg.LLMModel, cfg.LLMFallbackModel)
	retrieval := usecases.NewRetrievalStage(embedder, index, cfg.TopK, cfg.ScoreThreshold)
	pipeline := usecases.NewPipeline(
		usecases.NewTriageStage(invoker),
		retrieval,
		usecases.NewGenerationStage(invoker),
	)

	if cfg.WatchData {
		if err := watchData(ctx, cfg.DataDir, ingestor, log); err != nil {
			log.Warn("file watcher unavailable", zap.Error(err))
		}
	}

	server := httpserver.NewServer(pipeline, retrieval, log, ":"+cfg.Port)
	return server.Start(ctx)
}

// buildEmbedder picks the embedding backend from the configured credentials.
// Gemini when a key is present, otherwise the OpenAI-compatible endpoint the
// chat models already use.
func buildEmbedder(ctx context.Context, cfg *config.Config) (ports.Embedder, error) {
	if cfg.GeminiAPIKey != "" {
		return embedding.NewGeminiEmbedder(ctx, cfg.GeminiAPIKey, cfg.EmbeddingModel)
	}
	return embedding.NewOpenAIEmbedder(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.EmbeddingModel), nil
}

// watchData re-ingests the data directory whenever its source files change.
// Events are debounced so a burst of writes triggers a single rebuild.
func watchData(ctx context.Context, dir string, ingestor *usecases.Ingestor, log *zap.Logger) error {
	watcher, err := filewatcher.NewFSNotifyWatcher(nil)
	if err != nil {
		return err
	}

	events, err := watcher.Watch(ctx, dir)
	if err != nil {
		watcher.Stop()
		return err
	}

	go func() {
		defer watcher.Stop()

		var timer *time.Timer
		const debounce = 2 * time.Second
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				log.Debug("data change detected",
					zap.String("path", event.Path),
					zap.Stringer("op", event.Operation))
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounce, func() {
					n, err := ingestor.IngestDir(ctx, dir)
					if err != nil {
						log.Error("re-ingestion failed", zap.Error(err))
						return
					}
					log.Info("re-ingestion complete", zap.Int("chunks", n))
				})
			}
		}
	}()
	return nil
}
