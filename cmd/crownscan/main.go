package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/ironsheep/crownscan/internal/config"
	"github.com/ironsheep/crownscan/internal/geo"
	"github.com/ironsheep/crownscan/internal/pipeline"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Handle --version and -v flags before anything else
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version", "-v", "version":
			fmt.Printf("crownscan %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
			return
		}
	}

	cfgFile := flag.String("config", "", "Path to config file (default: $CROWNSCAN_CONFIG, then ./crownscan.yaml)")
	bboxFlag := flag.String("bbox", "", "Bounding box to analyze as lon1,lat1,lon2,lat2")
	retryFailed := flag.Bool("retry-failed", false, "Only reprocess tiles that failed in the previous run with these settings")
	debug := flag.Bool("debug", false, "Turn on debugging output")
	flag.Parse()

	var zapLogger *zap.Logger
	var err error
	if *debug {
		zapLogger, err = zap.NewDevelopment()
	} else {
		zapLogger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Printf("can't initialize zap logger: %v\n", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	if *bboxFlag == "" {
		log.Error("no bounding box given; pass -bbox lon1,lat1,lon2,lat2")
		os.Exit(1)
	}
	box, err := geo.ParseBBox(*bboxFlag)
	if err != nil {
		log.Errorf("invalid bounding box: %v", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		log.Errorf("error loading config. Did you pass the -config flag? Run with -h for help: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Infow("shutting down", "signal", sig)
		cancel()
	}()

	p := pipeline.New(cfg, log)
	summary, err := p.Run(ctx, box, *retryFailed)
	if err != nil {
		log.Errorf("analysis failed: %v", err)
		os.Exit(1)
	}

	fmt.Printf("Analyzed %d tiles (%d ok, %d failed), %d crowns detected in %s\n",
		summary.Total, len(summary.Succeeded), len(summary.Failed),
		summary.Detections, summary.Elapsed.Round(0))
	fmt.Printf("Results: %s\n", summary.CSVPath)
	if len(summary.Failed) > 0 {
		fmt.Println("Some tiles failed; rerun with -retry-failed to retry them.")
		os.Exit(2)
	}
}
