package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/locfix/internal/app"
	"github.com/relabs-tech/locfix/internal/config"
)

func main() {
	configPath := flag.String("config", "locfix_config.txt", "Path to configuration file")
	flag.Parse()

	log.Println("starting locfix fused producer (NMEA → MQTT batches)")

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunFusedProducer(ctx); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
