package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"portcaisse/internal/client"
	"portcaisse/internal/config"
	"portcaisse/internal/desk"
	"portcaisse/internal/domain"
	"portcaisse/internal/logging"
	"portcaisse/internal/session"
	"portcaisse/internal/tui"
)

func main() {
	editID := flag.Int64("edit", 0, "open an existing payment for modification")
	logPath := flag.String("log", "desk.log", "log file; the terminal belongs to the screen")
	flag.Parse()

	if err := run(*editID, *logPath); err != nil {
		fmt.Fprintf(os.Stderr, "desk: %v\n", err)
		os.Exit(1)
	}
}

func run(editID int64, logPath string) error {
	if err := config.LoadDotEnv(); err != nil {
		return fmt.Errorf("env file: %w", err)
	}
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, "json", logPath)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	backend, err := client.New(cfg.BackendURL, client.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}))
	if err != nil {
		return err
	}

	login := tui.NewLogin(func(ctx context.Context, username, password string) (domain.Actor, error) {
		resp, err := backend.Login(ctx, username, password)
		if err != nil {
			return domain.Actor{}, err
		}
		return resp.Actor, nil
	})
	final, err := tea.NewProgram(login).Run()
	if err != nil {
		return err
	}
	if _, ok := final.(tui.LoginModel).Actor(); !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	holder := session.NewHolder(backend)
	actor, err := holder.Refresh(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}
	logger.Info("operator signed in", zap.String("username", actor.Username), zap.String("role", actor.Role))

	bridge := tui.NewBridge()
	defer bridge.Stop()

	deps := desk.Deps{
		Payments: backend,
		Invoices: backend,
		Session:  holder,
		Logger:   logger,
		OnChange: bridge.OnChange,
	}
	deskCfg := desk.Config{
		ReferenceDelay: cfg.ReferenceCheckDelay,
		SearchDelay:    cfg.SearchDelay,
		RequestTimeout: cfg.RequestTimeout,
		PageSize:       cfg.PageSize,
		FailClosed:     cfg.ReferenceCheckFailClosed,
	}

	var d *desk.Desk
	if editID > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
		d, err = desk.OpenEdit(ctx, deps, deskCfg, editID)
		cancel()
		if err != nil {
			return fmt.Errorf("open payment %d: %w", editID, err)
		}
	} else {
		d = desk.New(deps, deskCfg)
	}
	defer d.Close()

	ctx, cancel = context.WithTimeout(context.Background(), cfg.RequestTimeout)
	if err := d.LoadPage(ctx, 1); err != nil {
		logger.Warn("initial payment listing failed", zap.Error(err))
	}
	cancel()

	program := tea.NewProgram(tui.New(d, actor), tea.WithAltScreen())
	bridge.Attach(program)

	started := time.Now()
	if _, err := program.Run(); err != nil {
		return err
	}
	logger.Info("desk closed", zap.Duration("session", time.Since(started)))
	return nil
}
