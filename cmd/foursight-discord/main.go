package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"foursight.local/orchestrator/internal/client"
	"foursight.local/orchestrator/internal/config"
	"foursight.local/orchestrator/internal/listener/discord"
)

func main() {
	logger := log.New(os.Stdout, "foursight-discord ", log.Ldate|log.Ltime|log.Lmicroseconds|log.LUTC)

	cfg, err := config.ClientFromYAMLAndEnv()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if err := cfg.ValidateDiscord(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}

	api, err := client.New(cfg.ServerURL, client.WithTimeout(cfg.RequestTimeout))
	if err != nil {
		logger.Fatalf("failed to create api client: %v", err)
	}
	l := discord.NewListener(discord.Config{
		BotToken:       cfg.DiscordBotToken,
		RequestTimeout: cfg.RequestTimeout,
	}, logger, api, nil)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := l.Start(ctx); err != nil {
		logger.Fatalf("failed to start listener: %v", err)
	}
	logger.Printf("forwarding discord messages to %s", cfg.ServerURL)

	<-ctx.Done()

	if err := l.Stop(); err != nil {
		logger.Printf("shutdown error: %v", err)
	}
}
