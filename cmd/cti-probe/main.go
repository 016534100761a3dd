/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// cti-probe connects to a CTI server, logs in and prints every notification
// and entity update until interrupted. It is a diagnostic tool for checking
// connectivity, credentials and server-pushed list traffic.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/xivocommunity/cti-go-sdk/ctisdk"
	"github.com/xivocommunity/cti-go-sdk/session"
	"github.com/xivocommunity/cti-go-sdk/storage"
	"github.com/xivocommunity/cti-go-sdk/transport"
)

func main() {
	var (
		server       = flag.String("server", "", "CTI server address")
		port         = flag.Int("port", 5003, "CTI server port")
		encrypt      = flag.Bool("encrypt", true, "request the STARTTLS upgrade")
		login        = flag.String("login", "", "user login, optionally with a %profile suffix")
		password     = flag.String("password", "", "user password (or CTI_PASSWORD env)")
		settingsPath = flag.String("settings", "", "settings profile file to load and persist")
		useWS        = flag.Bool("ws", false, "connect through the websocket gateway")
		verbose      = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()

	cfg := ctisdk.DefaultConfig()
	cfg.Logger = log

	var settings *ctisdk.Settings
	if *settingsPath != "" {
		var err error
		settings, err = ctisdk.LoadSettings(*settingsPath)
		if err != nil {
			log.Fatal().Err(err).Msg("could not load settings")
		}
		settings.Apply(cfg)
	}

	if *server != "" {
		cfg.Address = *server
		cfg.Port = *port
		cfg.Encrypt = *encrypt
	}
	if *login != "" {
		cfg.Login = *login
	}
	if *password != "" {
		cfg.Password = *password
	} else if env := os.Getenv("CTI_PASSWORD"); env != "" && cfg.Password == "" {
		cfg.Password = env
	}
	hostname, _ := os.Hostname()
	cfg.Ident = "cti-probe@" + hostname

	if cfg.Login == "" {
		fmt.Fprintln(os.Stderr, "a login is required (-login or a settings profile)")
		os.Exit(1)
	}

	var tr transport.Transport
	if *useWS {
		tr = transport.NewWS(log)
	} else {
		tr = transport.NewTCP(log)
	}

	s := session.New(cfg, tr, settings)

	s.On(session.EventLogged, func(n *session.Notification) {
		fmt.Printf("logged in as %s (%s)\n", s.XUserID(), s.Appliname())
	})
	s.On(session.EventInitialized, func(n *session.Notification) {
		store := s.Store()
		fmt.Printf("lists hydrated: %d users, %d phones, %d agents, %d queues\n",
			store.Len(storage.KindUsers), store.Len(storage.KindPhones),
			store.Len(storage.KindAgents), store.Len(storage.KindQueues))
	})
	s.On(session.EventConnectionFailed, func(n *session.Notification) {
		fmt.Printf("connection failed: %s\n", n.Text)
	})
	s.On(session.EventTextMessage, func(n *session.Notification) {
		fmt.Println(n.Text)
	})
	s.On(session.EventDelogged, func(n *session.Notification) {
		fmt.Println("logged out")
	})
	for _, kind := range storage.Kinds {
		kind := kind
		s.On(string(kind)+"."+session.VerbStatusUpdated, func(n *session.Notification) {
			log.Debug().Str("kind", string(kind)).Str("xid", n.XID).Msg("status updated")
		})
	}

	s.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("stopping...")
	s.Stop()
}
