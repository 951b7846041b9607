package main

import (
	"context"
	"fmt"

	"github.com/jonathan/ats-sync/internal/config"
	"github.com/jonathan/ats-sync/internal/db"
	"github.com/jonathan/ats-sync/internal/db/memdb"
	"github.com/jonathan/ats-sync/internal/events"
	"github.com/jonathan/ats-sync/internal/jobs"
	"github.com/jonathan/ats-sync/internal/syncer"
	"github.com/jonathan/ats-sync/internal/teamtailor"
)

// app bundles the wired components a command needs.
type app struct {
	client *teamtailor.Client
	store  db.Store
	pg     *db.DB
	mem    *memdb.Store
	svc    *syncer.Service
	runner *jobs.Runner
}

func (a *app) Close() {
	if a.pg != nil {
		a.pg.Close()
	}
}

// newClient builds the provider client from config.
func newClient(c *config.Config) (*teamtailor.Client, error) {
	if err := c.RequireAPIKey(); err != nil {
		return nil, err
	}
	opts := teamtailor.DefaultOptions()
	opts.APIKey = c.Teamtailor.APIKey
	opts.BaseURL = c.Teamtailor.BaseURL
	opts.APIVersion = c.Teamtailor.APIVersion
	opts.Timeout = c.Teamtailor.Timeout
	opts.MaxRetries = c.Teamtailor.MaxRetries
	opts.RequestsPerSecond = c.Teamtailor.RequestsPerSecond
	opts.ValidateResponses = c.Teamtailor.ValidateResponses
	opts.CircuitBreaker = c.Teamtailor.CircuitBreaker
	return teamtailor.NewClient(opts)
}

// newApp wires client, store, orchestrator and job runner. A dry run keeps
// every write in memory and never touches the database.
func newApp(ctx context.Context, c *config.Config, dryRun bool, publisher events.Publisher) (*app, error) {
	client, err := newClient(c)
	if err != nil {
		return nil, err
	}
	a := &app{client: client}

	if dryRun {
		a.mem = memdb.New()
		a.store = a.mem
	} else {
		if err := c.RequireDatabase(); err != nil {
			return nil, err
		}
		pg, err := db.Connect(ctx, c.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		a.pg = pg
		a.store = pg
	}

	if publisher == nil {
		publisher = events.Noop{}
	}
	a.svc = syncer.New(c.Sync, client, a.store, syncer.WithPublisher(publisher))
	a.runner = jobs.NewRunner(a.svc, a.store, c.Sync)
	return a, nil
}
