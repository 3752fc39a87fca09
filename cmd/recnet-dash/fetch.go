package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"recnet/pkg/config"
	"recnet/pkg/eventlog"
	"recnet/pkg/validator"
)

// fetchTimeout is how long to wait for a gateway or audit-log round-trip.
const fetchTimeout = 5 * time.Second

// recentEventsLimit caps how many audit rows the events panel shows.
const recentEventsLimit = 15

// dashConfig resolves what the dashboard needs: the gateway address and the
// audit database path, from $RECNET_CONFIG or the default location.
func dashConfig() config.Config {
	path := os.Getenv("RECNET_CONFIG")
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Default()
	}
	return cfg
}

// fetchStatus queries the validator gateway's status endpoint. Returns nil
// when the gateway is unreachable; the dashboard shows the offline state.
func fetchStatus(ctx context.Context, addr string) (*validator.Status, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://%s/api/v1/status", addr), nil)
	if err != nil {
		return nil, fmt.Errorf("build status request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch status: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status endpoint returned %d", resp.StatusCode)
	}

	var st validator.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &st, nil
}

// fetchEvents reads the most recent audit rows. Returns nil when the
// database does not exist yet.
func fetchEvents(ctx context.Context, dbPath string) ([]eventlog.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	r, err := eventlog.NewReader(dbPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	return r.QueryEvents(ctx, eventlog.QueryOpts{Limit: recentEventsLimit})
}
