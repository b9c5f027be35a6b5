package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/theoremus-urban-solutions/transit-departures/config"
	"github.com/theoremus-urban-solutions/transit-departures/entity"
	"github.com/theoremus-urban-solutions/transit-departures/scheduler"
)

const notifyTimeout = 3 * time.Second

// bindingLister returns the bindings a sink has persisted.
type bindingLister interface {
	Bindings(ctx context.Context) ([]*entity.Binding, error)
}

// stationReloader re-reads the configuration file and applies its station list to
// the running scheduler. Provider, store and listener settings need a restart.
type stationReloader struct {
	path     string
	sched    *scheduler.Scheduler
	entities *entity.Materializer
	stored   bindingLister
	logger   *slog.Logger

	mu sync.Mutex
}

// Reload applies the stations of the configuration file and sweeps the entities
// that are left without a station.
func (r *stationReloader) Reload(ctx context.Context) (scheduler.ApplyResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, _, err := config.LoadAppConfig(r.path)
	if err != nil {
		return scheduler.ApplyResult{}, err
	}
	res, err := r.sched.Apply(ctx, stationConfigs(cfg))
	r.logger.Info("configuration reloaded", "path", r.path,
		"added", len(res.Added), "updated", len(res.Updated), "removed", len(res.Removed))
	if serr := r.sweepLocked(ctx); serr != nil {
		err = errors.Join(err, serr)
	}
	return res, err
}

// Sweep unregisters stored entities that no configured station binds.
func (r *stationReloader) Sweep(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweepLocked(ctx)
}

func (r *stationReloader) sweepLocked(ctx context.Context) error {
	if r.stored == nil {
		return nil
	}
	stored, err := r.stored.Bindings(ctx)
	if err != nil {
		return err
	}
	n, err := r.entities.Sweep(ctx, stored)
	if n > 0 {
		r.logger.Info("removed orphaned entities", "count", n)
	}
	return err
}

// watch reloads on every signal from hup until ctx ends.
func (r *stationReloader) watch(ctx context.Context, hup <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if _, err := r.Reload(ctx); err != nil {
				r.logger.Error("reload failed", "error", err)
			}
		}
	}
}

// notifyReload asks a service listening on port to reload its configuration.
func notifyReload(ctx context.Context, client *http.Client, port int) (scheduler.ApplyResult, error) {
	var res scheduler.ApplyResult
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	url := fmt.Sprintf("http://127.0.0.1:%d/api/reload", port)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return res, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return res, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return res, fmt.Errorf("reload returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return res, fmt.Errorf("decode reload response: %w", err)
	}
	return res, nil
}

// announceReload tells a running service about a saved configuration change.
func announceReload(ctx context.Context, port int) {
	res, err := notifyReload(ctx, http.DefaultClient, port)
	if err != nil {
		fmt.Println(mutedStyle.Render("Service not reachable; the change applies when it starts or receives SIGHUP."))
		return
	}
	fmt.Println(okStyle.Render(fmt.Sprintf("✓ Running service reloaded (%d added, %d updated, %d removed)",
		len(res.Added), len(res.Updated), len(res.Removed))))
}
