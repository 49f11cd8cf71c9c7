// Package supervisor runs the backend's long-lived services under a suture
// tree so a crashed component restarts without taking the process down.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig tunes restart behaviour. Zero fields take the defaults.
type TreeConfig struct {
	// FailureThreshold is the number of failures before entering backoff.
	FailureThreshold float64
	// FailureDecay is the rate at which failures decay, in seconds.
	FailureDecay float64
	// FailureBackoff is how long to wait once the threshold is exceeded.
	FailureBackoff time.Duration
	// ShutdownTimeout bounds how long each service gets to stop.
	ShutdownTimeout time.Duration
}

// DefaultTreeConfig returns the production restart policy.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree is root -> {live, api}. Live holds the websocket hub and the alert
// relay; api holds the HTTP server.
type Tree struct {
	root *suture.Supervisor
	live *suture.Supervisor
	api  *suture.Supervisor
}

// NewTree builds the tree, logging supervisor events through log.
func NewTree(log *slog.Logger, cfg TreeConfig) *Tree {
	def := DefaultTreeConfig()
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = def.FailureDecay
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = def.FailureBackoff
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if log == nil {
		log = slog.Default()
	}

	// MustHook has a pointer receiver.
	hook := (&sutureslog.Handler{Logger: log}).MustHook()

	child := suture.Spec{
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}
	rootSpec := child
	rootSpec.EventHook = hook

	t := &Tree{
		root: suture.New("proctor", rootSpec),
		live: suture.New("live-layer", child),
		api:  suture.New("api-layer", child),
	}
	t.root.Add(t.live)
	t.root.Add(t.api)
	return t
}

// AddLive adds a service to the live layer.
func (t *Tree) AddLive(svc suture.Service) suture.ServiceToken { return t.live.Add(svc) }

// AddAPI adds a service to the api layer.
func (t *Tree) AddAPI(svc suture.Service) suture.ServiceToken { return t.api.Add(svc) }

// Serve blocks until ctx ends.
func (t *Tree) Serve(ctx context.Context) error { return t.root.Serve(ctx) }

// ServeBackground starts the tree and returns its exit channel.
func (t *Tree) ServeBackground(ctx context.Context) <-chan error { return t.root.ServeBackground(ctx) }

// UnstoppedServiceReport lists services that missed the shutdown deadline.
func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
