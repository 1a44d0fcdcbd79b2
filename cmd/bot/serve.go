package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ctf-bot/internal/notify"
	"ctf-bot/internal/server"
	"ctf-bot/internal/sheets"
	"ctf-bot/internal/tgbot"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Telegram bot and the export HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		e, err := setup(ctx)
		if err != nil {
			return err
		}
		defer e.st.Close()
		if err := e.cfg.RequireBot(); err != nil {
			return err
		}

		botAPI, err := tgbot.NewBotAPI(e.cfg)
		if err != nil {
			log.Fatalf("telegram: %v", err)
		}
		sender := tgbot.NewSender(botAPI, e.cfg.SendRatePerSec, e.cfg.SendRatePerChat, e.log)
		dispatcher := notify.NewDispatcher(notify.DefaultQueueSize, e.log)
		svc := newService(e, dispatcher, sender)

		dispatcher.AddSink("telegram", sender.NotifySink(e.cfg.NotifyChatIDs, svc))
		if e.cfg.SheetsEnabled() {
			sheetsClient, err := sheets.New(ctx, e.cfg.GoogleServiceAccountJSON, e.cfg.SpreadsheetID)
			if err != nil {
				log.Fatalf("sheets: %v", err)
			}
			if err := sheetsClient.EnsureHeaders(ctx); err != nil {
				e.log.Warn("sheets: headers not written", "err", err)
			}
			dispatcher.AddSink("sheets", sheets.NewSolveFeed(sheetsClient, svc))
		}

		botApp := tgbot.New(e.cfg, svc, e.st, sender, e.log)
		httpSrv := server.New(e.cfg, svc, e.log)

		go sender.Run(ctx)
		go dispatcher.Run(ctx)

		// Start HTTP server
		go func() {
			e.log.Info("HTTP listening", "addr", e.cfg.HTTPAddr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("http server: %v", err)
			}
		}()

		// Start Telegram
		go func() {
			if err := botApp.Run(ctx, botAPI); err != nil && !errors.Is(err, context.Canceled) {
				e.log.Error("bot stopped", "err", err)
			}
			cancel()
		}()

		// Graceful shutdown
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-sig:
		case <-ctx.Done():
		}
		e.log.Info("shutting down...")

		cancel()
		ctxTimeout, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		_ = httpSrv.Shutdown(ctxTimeout)

		e.log.Info("bye")
		return nil
	},
}
