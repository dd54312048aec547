//go:build integration

// Package integration provides end-to-end tests wiring the engine, store,
// and HTTP API together the way the daemon does.
package integration

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cinebot/attend/internal/api"
	"github.com/cinebot/attend/internal/attend"
	"github.com/cinebot/attend/internal/qualify"
	"github.com/cinebot/attend/internal/store"
)

// ManualClock is a test time source advanced by hand.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualClock() *ManualClock {
	return &ManualClock{now: time.Date(2024, 1, 15, 20, 0, 0, 0, time.UTC)}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// FixedVoice lists a fixed set of channel members.
type FixedVoice struct {
	Members []string
}

func (v FixedVoice) ChannelMembers(ctx context.Context, guildID, channelID string) ([]string, error) {
	return v.Members, nil
}

// TestApp holds the wired dependencies for one test.
type TestApp struct {
	Engine *attend.Engine
	Store  *store.Store
	Server *httptest.Server
	Clock  *ManualClock

	dbPath string
}

type testAppConfig struct {
	token   string
	voice   []string
	dbPath  string
	clock   *ManualClock
	defMode qualify.Mode
}

// TestAppOption configures a test app.
type TestAppOption func(*testAppConfig)

// WithToken enables bearer auth on the API.
func WithToken(token string) TestAppOption {
	return func(cfg *testAppConfig) { cfg.token = token }
}

// WithChannelMembers sets the members reported at event start.
func WithChannelMembers(members ...string) TestAppOption {
	return func(cfg *testAppConfig) { cfg.voice = members }
}

// WithDatabase reuses an existing database file, simulating a restart.
func WithDatabase(path string) TestAppOption {
	return func(cfg *testAppConfig) { cfg.dbPath = path }
}

// WithClock shares a clock across simulated process lifetimes.
func WithClock(clock *ManualClock) TestAppOption {
	return func(cfg *testAppConfig) { cfg.clock = clock }
}

// WithContinuousMode makes the default policy continuous.
func WithContinuousMode() TestAppOption {
	return func(cfg *testAppConfig) { cfg.defMode = qualify.ModeContinuous }
}

// NewTestApp wires a store, engine, and API server. Recovery runs before the
// app is returned, matching the daemon's startup order.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	cfg := &testAppConfig{defMode: qualify.ModeCumulative}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.dbPath == "" {
		cfg.dbPath = filepath.Join(t.TempDir(), "attend.sqlite")
	}
	if cfg.clock == nil {
		cfg.clock = NewManualClock()
	}

	st, err := store.Open(cfg.dbPath)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	settings := attend.StaticSettings{
		Defaults: attend.GuildSettings{Mode: cfg.defMode, ThresholdMinutes: 30},
	}
	engineOpts := []attend.Option{attend.WithClock(cfg.clock)}
	if len(cfg.voice) > 0 {
		engineOpts = append(engineOpts, attend.WithVoicePresence(FixedVoice{Members: cfg.voice}))
	}
	engine := attend.New(st, settings, engineOpts...)

	if _, err := engine.RecoverPersistedSessions(context.Background()); err != nil {
		st.Close()
		t.Fatalf("recovery failed: %v", err)
	}

	var serverOpts []api.ServerOption
	if cfg.token != "" {
		serverOpts = append(serverOpts, api.WithToken(cfg.token))
	}
	server := api.NewServer("127.0.0.1:0", engine, st, serverOpts...)
	ts := httptest.NewServer(server.Handler())

	app := &TestApp{
		Engine: engine,
		Store:  st,
		Server: ts,
		Clock:  cfg.clock,
		dbPath: cfg.dbPath,
	}
	t.Cleanup(app.Close)
	return app
}

// Close releases all resources.
func (app *TestApp) Close() {
	app.Server.Close()
	app.Store.Close()
}

// URL returns the base URL of the test server.
func (app *TestApp) URL() string {
	return app.Server.URL
}

// DatabasePath returns the SQLite file path (for restart simulations).
func (app *TestApp) DatabasePath() string {
	return app.dbPath
}
