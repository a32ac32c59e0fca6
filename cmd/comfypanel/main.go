package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/richinsley/comfypanel/client"
	"github.com/richinsley/comfypanel/generation"
	"github.com/richinsley/comfypanel/history"
	"github.com/richinsley/comfypanel/logger"
	"github.com/richinsley/comfypanel/settings"
	"github.com/richinsley/comfypanel/store"
)

type cliOptions struct {
	configPath string
	backend    string
	listen     string

	stats bool

	// one-shot mode
	workflow string
	prompt   string
	negative string
	seed     int64
	outDir   string
}

// process CLI arguments
func procCLI() cliOptions {
	var o cliOptions
	flag.StringVar(&o.configPath, "config", "", "Path to the TOML configuration file (default $"+settings.EnvConfigPath+" or "+settings.DefaultConfigPath+")")
	flag.StringVar(&o.backend, "backend", "", "ComfyUI backend url, overrides the configuration")
	flag.StringVar(&o.listen, "listen", "", "Address the panel API listens on, overrides the configuration")
	flag.BoolVar(&o.stats, "stats", false, "Print the backend's system stats and queue size and exit")
	flag.StringVar(&o.workflow, "workflow", "", "Run one generation from this API-format workflow (JSON or PNG) and exit")
	flag.StringVar(&o.prompt, "prompt", "", "Positive prompt for -workflow")
	flag.StringVar(&o.negative, "negative", "", "Negative prompt for -workflow")
	flag.Int64Var(&o.seed, "seed", generation.RandomSeed, "Seed for -workflow, -1 for random")
	flag.StringVar(&o.outDir, "out", ".", "Directory images from -workflow are written to")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s:\n", os.Args[0])
		fmt.Printf("  %s [OPTIONS]\n", os.Args[0])
		fmt.Println("\nWithout -workflow the panel API is served until interrupted.")
		fmt.Println("\nOptions:")
		flag.PrintDefaults()
	}
	flag.Parse()
	return o
}

func main() {
	// Load .env if present
	_ = godotenv.Load()

	opts := procCLI()

	config, err := settings.LoadConfig(opts.configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading configuration:", err)
		os.Exit(1)
	}
	if opts.backend != "" {
		config.Backend.Url = opts.backend
	}
	if opts.listen != "" {
		config.Server.Listen = opts.listen
	}

	logger.Init(config.Logging)
	log := logger.Service("comfypanel")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// only the server keeps a sideband socket open
	var sessionOpts []client.SessionOption
	sessionOpts = append(sessionOpts,
		client.WithRequestTimeout(config.Backend.RequestTimeout),
		client.WithLogger(logger.Service("session")))
	if opts.workflow != "" || opts.stats {
		sessionOpts = append(sessionOpts, client.WithoutSocket())
	}
	session := client.NewSession(sessionOpts...)
	defer session.Close()

	if opts.stats {
		if err := session.Reconfigure(config.Backend.Url); err != nil {
			logger.Fatal("Invalid backend url", "error", err)
		}
		if err := displaySystemStats(ctx, session.Client()); err != nil {
			logger.Fatal("Backend unreachable", "error", err)
		}
		return
	}

	submitter := generation.NewSubmitter(generation.Config{
		PollInterval: config.Backend.PollInterval,
		MaxAttempts:  config.Backend.MaxAttempts,
		PrimaryImage: generation.PrimaryImagePolicy(config.Backend.PrimaryImage),
	}, generation.WithLogger(logger.Service("generation")))

	db, err := store.Open(config.Storage.Dir, logger.Service("store"))
	if err != nil {
		// only the server needs persistence; a running server holds the lock
		if opts.workflow == "" {
			logger.Fatal("Could not open store", "dir", config.Storage.Dir, "error", err)
		}
		log.Warn("Running without history", "error", err)
	} else {
		defer db.Close()
	}

	var recent *history.History
	if db != nil {
		recent = history.New(db, store.KeyHistory, logger.Service("history"))
	} else {
		recent = history.New(nil, store.KeyHistory, logger.Service("history"))
	}

	if opts.workflow != "" {
		if err := recent.Load(); err != nil {
			log.Warn("Could not load history", "error", err)
		}
		if err := runOnce(ctx, opts, config, session, submitter, recent); err != nil {
			log.Error("Generation failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := db.ScheduleMerge(config.Storage.MergeSchedule); err != nil {
		logger.Fatal("Could not schedule store merge", "error", err)
	}
	if err := serve(ctx, config, opts.backend != "", session, submitter, recent, db); err != nil {
		logger.Fatal("Server stopped", "error", err)
	}
}
