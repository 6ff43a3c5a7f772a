// Package drinky wires the client-side core: connectivity, direct input and
// the ordered collections, owned by one long-lived Core.
package drinky

import (
	"context"
	"net/http"

	"drinky-board/internal/collection"
	"drinky-board/internal/config"
	"drinky-board/internal/connectivity"
	"drinky-board/internal/model"
	"drinky-board/internal/relay"
	"drinky-board/internal/remote"
	"drinky-board/internal/tasks"
)

// Re-exported types for callers outside this module.
type (
	Config          = config.Config
	ConnectionState = model.ConnectionState
	Item            = model.Item
	Notice          = relay.Notice
	ServiceOptions  = tasks.Options
)

// Core is the root-scoped owner of all session state.
type Core struct {
	Client  *remote.Client
	Monitor *connectivity.Monitor
	Relay   *relay.Relay

	collections map[string]*collection.Sync
	names       []string
	unsub       func()
}

// New builds a core for cfg. hc may be nil. notify receives relay notices.
func New(cfg Config, hc *http.Client, notify func(Notice)) *Core {
	client := remote.New(cfg.Client.BaseURL, cfg.Client.RequestTimeout, hc)
	mon := connectivity.New(client, cfg.Client.PollInterval)
	rel := relay.New(client, mon, notify)

	c := &Core{
		Client:      client,
		Monitor:     mon,
		Relay:       rel,
		collections: make(map[string]*collection.Sync),
	}
	for _, name := range cfg.CollectionNames() {
		c.collections[name] = collection.New(name, client)
		c.names = append(c.names, name)
	}
	c.unsub = mon.Subscribe(rel.OnConnectivity)
	return c
}

// Start begins connectivity polling.
func (c *Core) Start(ctx context.Context) { c.Monitor.Start(ctx) }

// Close ends any capture, stops polling and waits for in-flight relay
// submissions to settle.
func (c *Core) Close() {
	c.Relay.Stop()
	c.unsub()
	c.Monitor.Stop()
	c.Relay.Wait()
}

// Collection returns the mirror of name.
func (c *Core) Collection(name string) (*collection.Sync, bool) {
	s, ok := c.collections[name]
	return s, ok
}

// Profiles returns the profiles collection, or nil when not configured.
func (c *Core) Profiles() *collection.Sync { return c.collections[model.CollectionProfiles] }

// Sequences returns the sequences collection, or nil when not configured.
func (c *Core) Sequences() *collection.Sync { return c.collections[model.CollectionSequences] }

// CollectionNames lists configured collections in order.
func (c *Core) CollectionNames() []string { return append([]string(nil), c.names...) }

// RunService starts the control service with the given options.
func RunService(ctx context.Context, opts ServiceOptions) error {
	return tasks.InitAndRunService(ctx, opts)
}

// UserMessage renders any core error for display.
func UserMessage(err error) string { return remote.UserMessage(err) }
