// Command replay streams a captured event log through the state graph and
// reports what the graph resolved: per-server entity counts, each member's
// visible channels, and the engine's runtime counters. With a database
// configured it can warm-start from the latest snapshot and save a new one
// after the replay.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jhgg/discordstate/pkg/feed"
	"github.com/jhgg/discordstate/pkg/logging"
	"github.com/jhgg/discordstate/pkg/state"
	"github.com/jhgg/discordstate/pkg/statestore"
	"github.com/jhgg/discordstate/pkg/version"
)

func main() {
	configPath := flag.String("config", "", "YAML config file path")
	events := flag.String("events", "", "JSON-lines event log to replay (- for stdin)")
	dbPath := flag.String("db", "", "SQLite snapshot database path")
	warmStart := flag.Bool("warm-start", false, "Load the latest snapshot before replaying")
	save := flag.Bool("save", false, "Save a snapshot after replaying")
	showVersion := flag.Bool("version", false, "Print version and exit")
	logLevel := flag.String("log-level", "", "Log level: "+logging.LevelNames())
	flag.Parse()

	if *showVersion {
		fmt.Println("replay", version.Full())
		return
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}
	if *events != "" {
		cfg.Events = *events
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *warmStart {
		cfg.WarmStart = true
	}
	if *save {
		cfg.Save = true
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	if err := logging.Setup(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: os.Stderr,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("replay failed", "err", err)
		os.Exit(1)
	}
}

func run(cfg *Config) error {
	ctx := context.Background()
	registry := state.New(state.Options{Logger: logging.Component("state")})

	var store *statestore.Store
	if cfg.DBPath != "" {
		var err error
		if store, err = statestore.New(cfg.DBPath); err != nil {
			return err
		}
		defer store.Close()

		sealer, err := cfg.Sealer()
		if err != nil {
			return err
		}
		if sealer != nil {
			store.UseSealer(sealer)
		}

		if cfg.WarmStart {
			latest, err := store.Latest(ctx)
			if err != nil {
				return err
			}
			if latest == nil {
				slog.Info("no snapshot to warm-start from")
			} else {
				if err := store.Load(ctx, latest.ID, registry); err != nil {
					return err
				}
				slog.Info("warm-started", "snapshot", latest.ID, "created", latest.CreatedAt,
					"servers", latest.Servers, "users", latest.Users)
			}
		}
	}

	if cfg.Events != "" {
		if err := replay(registry, cfg.Events); err != nil {
			return err
		}
	}

	report(registry)
	registry.Metrics().LogSummary()

	if store != nil && cfg.Save {
		snap, err := store.Save(ctx, registry)
		if err != nil {
			return err
		}
		slog.Info("snapshot saved", "snapshot", snap.ID,
			"servers", snap.Servers, "users", snap.Users,
			"channels", snap.Channels, "roles", snap.Roles)
		if cfg.Keep > 0 {
			pruned, err := store.Prune(ctx, cfg.Keep)
			if err != nil {
				return err
			}
			if pruned > 0 {
				slog.Info("pruned old snapshots", "count", pruned)
			}
		}
	}
	return nil
}

func replay(registry *state.Registry, path string) error {
	var in io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open event log: %w", err)
		}
		defer f.Close()
		in = f
	}

	r := feed.NewReader(in)
	for {
		evt, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := registry.Apply(evt); err != nil {
			return err
		}
	}
}

func report(registry *state.Registry) {
	for _, s := range registry.Servers() {
		fmt.Printf("server %d %q: %d members, %d channels, %d roles\n",
			s.ID(), s.Name(), s.MemberCount(), len(s.Channels()), len(s.Roles()))
		for _, u := range s.Members() {
			visible := u.VisibleChannels()
			fmt.Printf("  %s (%d): server=%#x visible=%d\n",
				u, u.ID(), u.ServerPermissions().Raw(), len(visible))
			for _, c := range visible {
				perms, err := u.ChannelPermissions(c)
				if err != nil || perms == nil {
					continue
				}
				fmt.Printf("    #%s (%s): %#x\n", c.Name(), c.Kind(), perms.Raw())
			}
		}
	}
}
