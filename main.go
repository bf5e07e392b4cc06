// peerchat TUI - a terminal client for the tutoring marketplace chat.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/peerchat-tui/internal/api"
	"github.com/jeranaias/peerchat-tui/internal/config"
	"github.com/jeranaias/peerchat-tui/internal/session"
	"github.com/jeranaias/peerchat-tui/internal/socket"
	"github.com/jeranaias/peerchat-tui/internal/store"
	"github.com/jeranaias/peerchat-tui/internal/ui/chat"
	"github.com/jeranaias/peerchat-tui/internal/ui/styles"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.peerchat/config.toml)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("peerchat %s (%s, %s)\n", Version, GitCommit, BuildDate)
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFrom(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger, closeLog, err := openLogger(cfg.UI.LogPath)
	if err != nil {
		return err
	}
	defer closeLog()

	// Missing identity is not a startup failure: the UI opens in its
	// error state so the user sees what to configure.
	var fatalErr string
	if cfg.Identity.UserID == "" {
		fatalErr = "No identity configured. Set identity.user_id in " + config.DefaultPath() +
			" or the PEERCHAT_USER_ID environment variable."
	}

	client := api.NewClient(cfg.Server.APIURL, cfg.Identity.Token).
		WithMaxImageBytes(cfg.Chat.MaxImageBytes)

	var cache *store.Cache
	if path := cfg.CachePath(); path != "" {
		cache, err = store.OpenCache(path)
		if err != nil {
			logger.Printf("preview cache disabled: %v", err)
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	st := store.New(store.Options{
		UserID:       cfg.Identity.UserID,
		Fetcher:      client,
		Cache:        cache,
		PollInterval: cfg.PollInterval(),
		Logger:       logger,
	})

	conn := socket.New(socket.Options{
		URL:               cfg.Server.SocketURL,
		UserID:            cfg.Identity.UserID,
		ReconnectAttempts: cfg.Chat.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelay(),
		Logger:            logger,
	})

	mgr := session.NewManager(session.Options{
		UserID:        cfg.Identity.UserID,
		Emitter:       conn,
		Upload:        client,
		History:       client,
		Convs:         st,
		AckTimeout:    cfg.AckTimeout(),
		TypingIdle:    cfg.TypingIdle(),
		MaxImageBytes: cfg.Chat.MaxImageBytes,
	})

	theme := styles.NewThemeFor(cfg.UI.Theme)
	ui := chat.New(mgr, st, theme, fatalErr)
	program := tea.NewProgram(ui, tea.WithAltScreen())

	// Wire the callback bridge now that the program exists.
	onStore, onSession, onNotice, onSocketErr := chat.Bridge(func(msg tea.Msg) {
		program.Send(msg)
	})
	st.SetOnUpdate(onStore)
	mgr.SetChangeCallback(onSession)
	mgr.SetNoticeCallback(onNotice)
	conn.SetHandler(mgr)
	conn.SetOnError(onSocketErr)

	if fatalErr == "" {
		st.WarmStart()
		if err := conn.Connect(); err != nil {
			logger.Printf("realtime connection failed: %v", err)
			onSocketErr(err)
		}
		st.StartPolling(context.Background())
		defer st.StopPolling()
		defer conn.Close()
	}

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("run UI: %w", err)
	}
	return nil
}

// openLogger sets up diagnostic logging: to a file when configured,
// otherwise discarded so log output never corrupts the TUI.
func openLogger(path string) (*log.Logger, func(), error) {
	if path == "" {
		return log.New(io.Discard, "", 0), func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return log.New(f, "peerchat ", log.LstdFlags), func() { f.Close() }, nil
}
