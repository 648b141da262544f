package main

import (
	"context"
	"fmt"
	"os"
	"regexp"

	"reddalert/internal/adminctl"
	"reddalert/internal/config"
	"reddalert/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	urlPattern, err := regexp.Compile(cfg.WebhookURLPattern)
	if err != nil {
		fmt.Fprintln(os.Stderr, "compile WEBHOOK_URL_PATTERN:", err)
		os.Exit(1)
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open database:", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	cli := adminctl.New(store, os.Stdout, urlPattern, cfg.PollIntervalMinutes)
	if err := cli.Run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
