package main

import (
	"flag"
	"log"

	"github.com/relabs-tech/motion_logger/internal/app"
	"github.com/relabs-tech/motion_logger/internal/config"
	"github.com/relabs-tech/motion_logger/internal/logging"
)

func main() {
	configPath := flag.String("config", "motion_config.txt", "path to the configuration file")
	duration := flag.Duration("duration", 0, "how long to record; 0 records until interrupted")
	flag.Parse()

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()
	if err := logging.Init(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile}); err != nil {
		log.Fatalf("failed to set up logging: %v", err)
	}
	defer logging.Sync()

	if err := app.RunLogger(*duration); err != nil {
		logging.L().Fatalw("fatal", "error", err)
	}
}
