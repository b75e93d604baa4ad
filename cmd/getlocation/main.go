package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"

	"github.com/relabs-tech/locfix/internal/app"
	"github.com/relabs-tech/locfix/internal/config"
	"github.com/relabs-tech/locfix/internal/location"
)

func main() {
	configPath := flag.String("config", "locfix_config.txt", "Path to configuration file")
	high := flag.Bool("high", false, "Request high accuracy")
	timeout := flag.Float64("timeout", 30000, "Timeout in milliseconds, 0 waits forever")
	flag.Parse()

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	opts := location.Options{EnableHighAccuracy: *high, Timeout: *timeout}
	if err := app.RunGetLocation(ctx, os.Stdout, opts); err != nil {
		log.Fatalf("getlocation: %v", err)
	}
}
