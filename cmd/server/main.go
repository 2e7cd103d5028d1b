package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"animehub/internal/auth"
	"animehub/internal/config"
	"animehub/internal/db"
	clog "animehub/internal/log"
	"animehub/internal/mw"
	"animehub/internal/server"
	"animehub/internal/service"
	"animehub/internal/store"
	"animehub/internal/ws"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

var cfgFile string

func main() {
	// main 解析命令行，未指定子命令时等同于 serve。
	root := &cobra.Command{
		Use:          "animehub",
		Short:        "Chat and watch-party relay server",
		SilenceUsage: true,
		RunE:         runServe,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "optional yaml config file")
	root.AddCommand(
		&cobra.Command{Use: "serve", Short: "Run the HTTP and websocket server", RunE: runServe},
		&cobra.Command{Use: "migrate", Short: "Create or update the database schema", RunE: runMigrate},
		&cobra.Command{Use: "prune", Short: "Delete chat messages past retention once", RunE: runPrune},
	)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup() (config.Config, *gorm.DB, error) {
	cfg, err := config.LoadFile(cfgFile)
	if err != nil {
		return cfg, nil, err
	}
	clog.Init(cfg.Env)
	if err := config.Validate(cfg); err != nil {
		return cfg, nil, fmt.Errorf("config: %w", err)
	}
	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		return cfg, nil, fmt.Errorf("db connect: %w", err)
	}
	return cfg, gdb, nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	_, gdb, err := setup()
	if err != nil {
		return err
	}
	if err := db.Migrate(gdb); err != nil {
		return fmt.Errorf("db migrate: %w", err)
	}
	log.Info().Msg("schema up to date")
	return nil
}

func runPrune(cmd *cobra.Command, args []string) error {
	cfg, gdb, err := setup()
	if err != nil {
		return err
	}
	msgs := service.NewMessageService(store.New(gdb))
	n, err := msgs.Prune(cmd.Context(), time.Now().UTC().Add(-cfg.ChatRetention))
	if err != nil {
		return err
	}
	log.Info().Int64("deleted", n).Msg("pruned chat log")
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, gdb, err := setup()
	if err != nil {
		return err
	}
	if err := db.Migrate(gdb); err != nil {
		return fmt.Errorf("db migrate: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st := store.New(gdb)
	sessions := service.NewSessionService(st, cfg.SessionTTL, auth.NewSessionToken)
	rooms := service.NewRoomService(st, sessions, auth.NewRoomToken)
	messages := service.NewMessageService(st)

	hub := ws.NewHub()
	go hub.Run(ctx)
	go messages.RunPruner(ctx, cfg.PruneInterval, cfg.ChatRetention)

	relay := ws.NewRelay(hub, sessions, rooms, messages, ws.Options{
		Backlog:        cfg.ChatBacklog,
		ActiveWindow:   cfg.ActiveWindow,
		PresenceGrace:  cfg.PresenceGrace,
		EventsPerSec:   float64(cfg.EventsPerSec),
		EventBurst:     cfg.EventBurst,
		Env:            cfg.Env,
		AllowedOrigins: cfg.CORSOrigins,
	})

	limiters := mw.NewLimiters(rate.Every(time.Second/20), 40, 2*time.Minute)
	go limiters.GC(30 * time.Second)
	defer limiters.Stop()

	r := server.SetupRouter(cfg, server.Services{Sessions: sessions, Rooms: rooms, Messages: messages, Relay: relay}, limiters)
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
