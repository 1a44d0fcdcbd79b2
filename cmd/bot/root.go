package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"ctf-bot/internal/access"
	"ctf-bot/internal/config"
	"ctf-bot/internal/ctf"
	"ctf-bot/internal/notify"
	"ctf-bot/internal/store"
	"ctf-bot/internal/store/memstore"
	"ctf-bot/internal/store/pgstore"
	"ctf-bot/internal/store/redisstore"
)

var rootCmd = &cobra.Command{
	Use:   "ctf-bot",
	Short: "Telegram CTF bot",
	Long: `ctf-bot runs a capture-the-flag competition over Telegram: players browse
tasks and submit flags, organizers manage tasks and watch the board.

Without a subcommand it runs the bot (same as "ctf-bot serve").`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, boardCmd, tasksCmd, reconcileCmd)
}

// env is what every subcommand starts from.
type env struct {
	cfg config.Config
	log *slog.Logger
	st  store.Store
}

func setup(ctx context.Context) (*env, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	log := newLogger(cfg)
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	return &env{cfg: cfg, log: log, st: st}, nil
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		return pgstore.New(ctx, cfg.PostgresDSN)
	case config.BackendMemory:
		return memstore.New(), nil
	default:
		return redisstore.New(ctx, cfg.RedisURL)
	}
}

func newService(e *env, ann notify.Announcer, bc ctf.Broadcaster) *ctf.Service {
	roles := access.NewRoles(e.cfg.AdminTGIDs, e.cfg.TesterTGIDs)
	return ctf.New(ctf.Deps{
		Store:         e.st,
		Gate:          access.NewGate(e.cfg.EventStart, e.cfg.EventEnd, roles),
		Announcer:     ann,
		Broadcaster:   bc,
		Logger:        e.log,
		DefaultPoints: e.cfg.DefaultPoints,
	})
}
