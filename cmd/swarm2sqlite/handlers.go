package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/elonfeng/swarm2sqlite/internal/config"
	"github.com/elonfeng/swarm2sqlite/internal/ingest"
	"github.com/elonfeng/swarm2sqlite/internal/logger"
	"github.com/elonfeng/swarm2sqlite/internal/scheduler"
	"github.com/elonfeng/swarm2sqlite/internal/store"
	"github.com/elonfeng/swarm2sqlite/pkg/checkin"
	"github.com/elonfeng/swarm2sqlite/pkg/server"
	"github.com/elonfeng/swarm2sqlite/pkg/source"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

// foursquareSource builds the API client, or returns nil when no token is
// available.
func foursquareSource(cfg *config.Config, token string) source.Source {
	if token == "" {
		token = cfg.Foursquare.Token
	}
	if token == "" {
		return nil
	}
	return source.NewFoursquare(token, cfg.Foursquare.BaseURL, cfg.Foursquare.APIVersion, cfg.Foursquare.PageSize)
}

func promptToken() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no token: pass --token, set FOURSQUARE_TOKEN or use --load")
	}
	fmt.Fprint(os.Stderr, "Please provide your Foursquare OAuth token: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	token := strings.TrimSpace(string(b))
	if token == "" {
		return "", fmt.Errorf("no token given")
	}
	return token, nil
}

func runImport(cmd *cobra.Command, dbPath string, opts importOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.token != "" && opts.load != "" {
		return fmt.Errorf("provide either --load or --token")
	}

	nullColumns := opts.nullColumns
	if nullColumns == "" {
		nullColumns = cfg.Import.NullColumns
	}
	nulls, err := checkin.ParseNullPolicy(nullColumns)
	if err != nil {
		return err
	}

	var after time.Time
	if opts.since != "" {
		d, err := source.ParseSince(opts.since)
		if err != nil {
			return err
		}
		after = time.Now().Add(-d)
	}

	var src source.Source
	if opts.load != "" {
		src = source.NewFile(opts.load)
	} else {
		src = foursquareSource(cfg, opts.token)
		if src == nil {
			token, err := promptToken()
			if err != nil {
				return err
			}
			src = foursquareSource(cfg, token)
		}
	}

	level := cfg.Log.Level
	if !opts.silent && level == "info" {
		// Info lines would tear through the progress bar.
		level = "warn"
	}
	log, err := logger.New(level)
	if err != nil {
		return err
	}
	defer log.Sync()

	db, err := store.New(dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bar := newProgress(opts.silent)
	defer bar.Stop()

	var saved []source.Record
	pipeline := ingest.New(db, nulls, log)
	res, err := pipeline.Run(ctx, src, ingest.Options{
		After: after,
		OnTotal: func(total int) {
			bar.Start(total, fmt.Sprintf("Importing %s checkin%s", humanize.Comma(int64(total)), plural(total)))
		},
		OnRecord: func(r source.Record) {
			bar.Increment()
			if opts.save != "" {
				saved = append(saved, r)
			}
		},
	})
	bar.Stop()
	if err != nil {
		return err
	}

	if opts.save != "" {
		if err := source.Save(opts.save, saved); err != nil {
			return err
		}
	}

	summary := fmt.Sprintf("imported %s checkin%s into %s in %s",
		humanize.Comma(int64(res.Imported)), plural(res.Imported), dbPath, res.Duration.Round(time.Millisecond))
	if fi, err := os.Stat(dbPath); err == nil {
		summary += fmt.Sprintf(" (%s)", humanize.Bytes(uint64(fi.Size())))
	}
	if !opts.silent {
		fmt.Fprintln(cmd.ErrOrStderr(), summary)
	}
	return nil
}

func runServe(ctx context.Context, port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if port == 0 {
		port = cfg.Server.Port
	}
	nulls, err := checkin.ParseNullPolicy(cfg.Import.NullColumns)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer log.Sync()

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pipeline := ingest.New(db, nulls, log)
	srv := server.New(db, pipeline, foursquareSource(cfg, ""), port, log)
	return srv.ListenAndServe(ctx)
}

func runDaemon(ctx context.Context, port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if port == 0 {
		port = cfg.Server.Port
	}
	nulls, err := checkin.ParseNullPolicy(cfg.Import.NullColumns)
	if err != nil {
		return err
	}
	src := foursquareSource(cfg, "")
	if src == nil {
		return fmt.Errorf("no token: set foursquare.token or FOURSQUARE_TOKEN")
	}

	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer log.Sync()

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pipeline := ingest.New(db, nulls, log)
	sched := scheduler.New(pipeline, src, cfg.Schedule.ParseSyncInterval(), log)
	srv := server.New(db, pipeline, src, port, log)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	})
	g.Go(func() error { return srv.ListenAndServe(ctx) })

	err = g.Wait()
	log.Info("shut down", zap.Error(err))
	return err
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
