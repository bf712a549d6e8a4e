package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/AaronLay10/SentientDialogue/internal/api"
	"github.com/AaronLay10/SentientDialogue/internal/config"
	"github.com/AaronLay10/SentientDialogue/internal/dialogue"
	"github.com/AaronLay10/SentientDialogue/internal/events"
	"github.com/AaronLay10/SentientDialogue/internal/host"
	"github.com/AaronLay10/SentientDialogue/internal/mqtt"
	"github.com/AaronLay10/SentientDialogue/internal/storage/postgres"
	"github.com/AaronLay10/SentientDialogue/internal/tags"
	"github.com/AaronLay10/SentientDialogue/internal/version"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	defaultPath := os.Getenv("DIALOGUE_CONFIG")
	if defaultPath == "" {
		defaultPath = "dialogue.yaml"
	}
	configPath := flag.String("config", defaultPath, "path to dialogue.yaml")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		slog.Error("dialogue engine failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = config.Default()
	} else if err != nil {
		return err
	}

	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	var taxonomy tags.Taxonomy = tags.Open{}
	if cfg.Tags.Registry != "" {
		reg, err := tags.LoadRegistry(cfg.Tags.Registry)
		if err != nil {
			return err
		}
		logger.Info("tag registry loaded", "path", cfg.Tags.Registry, "tags", reg.Len())
		taxonomy = reg
	}

	loader := func() ([]*dialogue.Graph, error) {
		return dialogue.LoadDir(cfg.Graphs.Dir, taxonomy)
	}
	graphs, err := loader()
	if err != nil {
		return fmt.Errorf("load graphs: %w", err)
	}
	lib := dialogue.NewLibrary(graphs...)
	facts := dialogue.NewFacts()
	bus := events.NewBus(cfg.Engine.EventBuffer)

	creds, err := config.LoadCredentials()
	if err != nil {
		return err
	}

	apiOpts := api.Options{
		Port:        cfg.Network.APIPort,
		InstanceID:  cfg.Postgres.InstanceID,
		Credentials: creds,
		TLS:         api.TLSFromEnv(),
		Logger:      logger,
	}

	if cfg.Postgres.Enabled {
		password, err := config.ResolveSecret("PGPASSWORD")
		if err != nil {
			return err
		}
		pg, err := postgres.New(ctx, postgres.ConnString(password), cfg.Postgres.InstanceID)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pg.Close()

		journal := events.NewJournal(pg, cfg.Postgres.QueueSize, logger)
		unsubJournal := bus.Subscribe(journal)
		defer func() {
			unsubJournal()
			journal.Close()
		}()

		apiOpts.History = pg
		apiOpts.JournalDropped = journal.Dropped
	}

	alerter := api.NewAlerter(api.AlertConfigFromEnv(cfg.Postgres.InstanceID), logger)
	bus.Subscribe(alerter)
	defer alerter.Wait()

	sched := dialogue.NewScheduler(lib, facts, bus, dialogue.Options{
		Timing: dialogue.Timing{
			WordsPerMinute:   cfg.Timing.WordsPerMinute,
			MinTextTime:      *cfg.Timing.MinTextTime,
			MinAudioTime:     *cfg.Timing.MinAudioTime,
			MinSpeakingTime:  *cfg.Timing.MinSpeakingTime,
			Padding:          cfg.Timing.Padding,
			PlaybackRate:     cfg.Timing.PlaybackRate,
			SkipMinElapsed:   *cfg.Timing.SkipMinElapsed,
			SkipMinRemaining: cfg.Timing.SkipMinRemaining,
		},
		Seed:                   cfg.Engine.Seed,
		Lookahead:              cfg.Engine.Lookahead,
		DefaultSlot:            *cfg.Engine.DefaultSlot,
		AutoSelectSingleChoice: *cfg.Engine.AutoSelectSingleChoice,
		Logger:                 logger,
	})
	h := host.New(sched, lib, facts, bus, host.Options{
		Interval: cfg.Engine.TickInterval,
		Load:     loader,
		Tags:     taxonomy,
		Logger:   logger,
	})

	g, ctx := errgroup.WithContext(ctx)

	if cfg.MQTT.Enabled {
		client := mqtt.NewClient(cfg.MQTT.URL, cfg.MQTT.ClientID)
		if err := client.Connect(); err != nil {
			return fmt.Errorf("connect mqtt %s: %w", client.URL(), err)
		}
		defer client.Disconnect()

		if err := mqtt.NewBridge(client, h, cfg.MQTT.TopicPrefix, logger).Start(); err != nil {
			return err
		}
		pub := mqtt.NewEventPublisher(client, cfg.MQTT.TopicPrefix, 0, logger)
		unsubPub := bus.Subscribe(pub)
		defer func() {
			unsubPub()
			pub.Close()
		}()

		apiOpts.MQTTConnected = client.IsConnected
		g.Go(func() error {
			return alerter.WatchMQTT(ctx, client.IsConnected, 0)
		})
		logger.Info("mqtt connected", "url", client.URL(), "prefix", cfg.MQTT.TopicPrefix)
	}

	server := api.NewServer(h, bus, apiOpts)

	hostname, _ := os.Hostname()
	bus.Publish("info", events.SystemStartup, "", "dialogue engine starting", map[string]interface{}{
		"service":  "dialogue",
		"version":  version.Version,
		"hostname": hostname,
		"pid":      os.Getpid(),
		"graphs":   lib.IDs(),
	})

	g.Go(func() error { return h.Run(ctx) })
	g.Go(func() error { return server.ListenAndServe(ctx) })

	err = g.Wait()
	bus.Publish("info", events.SystemShutdown, "", "dialogue engine stopping", nil)
	return err
}
