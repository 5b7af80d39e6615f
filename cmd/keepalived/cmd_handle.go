package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/HerbHall/keepalive/internal/config"
	"github.com/HerbHall/keepalive/internal/keepalive"
	"github.com/HerbHall/keepalive/internal/services"
	"github.com/HerbHall/keepalive/internal/store"
)

// openHandleStore opens the configured database for offline handle edits.
// The daemon picks the change up on its next watchdog fire.
func openHandleStore(ctx context.Context, configPath string) (*keepalive.SettingsHandleStore, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	db, err := store.New(cfg.GetString("database.path"))
	if err != nil {
		return nil, nil, err
	}
	settings, err := services.NewSQLiteSettingsRepository(ctx, db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return keepalive.NewSettingsHandleStore(settings), func() { db.Close() }, nil
}

func runRegister(args []string) {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	handle := fs.String("handle", "", "task handle to run (required)")
	foreground := fs.Bool("foreground", true, "show the status indicator while the task runs")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *handle == "" {
		fmt.Fprintln(os.Stderr, "error: --handle is required")
		fs.Usage()
		os.Exit(1)
	}

	ctx := context.Background()
	handles, closeDB, err := openHandleStore(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "register failed: %v\n", err)
		os.Exit(1)
	}
	defer closeDB()

	h := keepalive.TaskHandle{ID: *handle, Foreground: *foreground, RegisteredAt: time.Now().UTC()}
	if err := handles.Save(ctx, h); err != nil {
		fmt.Fprintf(os.Stderr, "register failed: %v\n", err)
		closeDB()
		os.Exit(1)
	}
	fmt.Printf("Registered task handle %q (foreground=%t)\n", h.ID, h.Foreground)
}

func runClear(args []string) {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	ctx := context.Background()
	handles, closeDB, err := openHandleStore(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "clear failed: %v\n", err)
		os.Exit(1)
	}
	defer closeDB()

	if err := handles.Clear(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "clear failed: %v\n", err)
		closeDB()
		os.Exit(1)
	}
	fmt.Println("Task handle cleared")
}
