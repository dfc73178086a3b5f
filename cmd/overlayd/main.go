// Command overlayd is a thin fx composition root that wires the Route
// Table, Router, Partner Supervisor configuration and Proxy Manager into a
// running process. It supplies bare-bones stand-ins for the collaborators a
// real host application (rendezvous client, NAT-traversed peer registry)
// would normally provide, so it is useful for smoke-testing the overlay
// core against a static peer roster rather than for production deployment.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/fx"

	"github.com/dep2p/overlay/config"
	"github.com/dep2p/overlay/internal/core/partner"
	"github.com/dep2p/overlay/internal/core/proxy"
	"github.com/dep2p/overlay/internal/core/routing"
	pkgif "github.com/dep2p/overlay/pkg/interfaces"
	"github.com/dep2p/overlay/pkg/eventbus"
	"github.com/dep2p/overlay/pkg/log"
	"github.com/dep2p/overlay/pkg/types"
)

var logger = log.Named("overlayd")

// PeerEntry is one line of the static roster file this binary reads in
// place of a live rendezvous feed.
type PeerEntry struct {
	ID   string `json:"id"`
	Host string `json:"host"`
	Port uint16 `json:"port"`
}

// rosterFile is the on-disk shape of the -roster flag's target.
type rosterFile struct {
	UserID string      `json:"user_id"`
	Peers  []PeerEntry `json:"peers"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "overlayd:", err)
		os.Exit(1)
	}
}

func run() error {
	selfFlag := flag.String("self", "", "this node's peer id (uuid)")
	configFile := flag.String("config", "", "path to a JSON overlay config file")
	rosterPath := flag.String("roster", "", "path to a JSON static peer roster")
	flag.Parse()

	if *selfFlag == "" {
		return fmt.Errorf("-self is required")
	}
	self, err := types.ParsePeerID(*selfFlag)
	if err != nil {
		return fmt.Errorf("parse -self: %w", err)
	}

	cfg := config.Default()
	if *configFile != "" {
		if err := loadConfig(*configFile, cfg); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	roster := rosterFile{UserID: self.String()}
	if *rosterPath != "" {
		data, err := os.ReadFile(*rosterPath)
		if err != nil {
			return fmt.Errorf("read roster: %w", err)
		}
		if err := json.Unmarshal(data, &roster); err != nil {
			return fmt.Errorf("parse roster: %w", err)
		}
	}
	peers, err := newStaticPeerBook(roster.Peers)
	if err != nil {
		return fmt.Errorf("build peer roster: %w", err)
	}

	app := fx.New(
		fx.Supply(
			self,
			cfg.Router,
			cfg.Proxy,
			cfg,
		),
		fx.Provide(
			eventbus.New,
			func() pkgif.PeerManager { return peers },
			func() pkgif.ServerLinkHolder { return alwaysSignedIn{userID: roster.UserID} },
		),
		routing.Module(),
		partner.Module(),
		proxy.Module(),
		fx.NopLogger,
	)

	logger.Infow("starting overlay core", "self", self.String())
	if err := app.Start(context.Background()); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	waitForSignal()

	logger.Info("shutting down")
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return app.Stop(stopCtx)
}

func loadConfig(path string, into *config.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, into)
}

func waitForSignal() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}
