// Command assistant-cli chats with the portfolio assistant from a terminal.
// It drives one widget in-process with the same configuration as the server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"

	"folioassist/internal/chat"
	"folioassist/internal/config"
	"folioassist/internal/logger"
	"folioassist/internal/persona"
	"folioassist/internal/service/ai"
)

func main() {
	_ = godotenv.Load()

	cfgPath := flag.String("config", os.Getenv("FOLIO_CONFIG"), "path to config.json")
	verbose := flag.Bool("v", false, "log generation failures to stderr")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	p, err := persona.FromConfig(ctx, cfg.Persona)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load persona: %v\n", err)
		os.Exit(1)
	}

	level := "error"
	if *verbose {
		level = "warn"
	}
	log := logger.New(logger.Config{Level: level, Pretty: true, Output: os.Stderr})

	w := chat.New(ai.NewService(cfg.Provider), p,
		chat.WithSessionID("cli"),
		chat.WithLogger(logger.Component(log, "chat")),
		chat.WithRequestTimeout(cfg.BasicConfig.RequestTimeoutDuration()),
		chat.WithMaxHistory(cfg.Provider.MaxHistoryMessages),
	)
	defer w.Close()

	if err := repl(ctx, w, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
