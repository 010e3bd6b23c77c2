package auth

import (
	"context"
	"log/slog"
)

// Client-side routes the provider redirects to.
const (
	RouteDashboard = "/dashboard"
	RouteAuth      = "/auth"
)

// Navigator moves the client to another route.
type Navigator interface {
	Navigate(path string)
}

// Provider mirrors auth events into a Store and redirects on sign in/out.
type Provider struct {
	store  *Store
	nav    Navigator
	logger *slog.Logger
}

// NewProvider creates a provider. nav may be nil.
func NewProvider(store *Store, nav Navigator, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{store: store, nav: nav, logger: logger}
}

// Attach subscribes to client and runs the initial session check.
// The returned function unsubscribes.
func (p *Provider) Attach(ctx context.Context, client *Client) func() {
	unsubscribe := client.OnAuthStateChange(p.Handle)
	if _, err := client.CheckSession(ctx); err != nil {
		p.logger.Warn("Initial session check failed", "error", err)
	}
	return unsubscribe
}

// Handle applies one auth event.
func (p *Provider) Handle(ctx context.Context, ev Event) {
	var err error
	if ev.Session != nil && ev.Session.User != nil {
		err = p.store.SetUser(ctx, ev.Session.User)
	} else {
		err = p.store.SetIsAuthenticated(ctx, false)
	}
	if err != nil {
		p.logger.Warn("Failed to persist auth snapshot", "event", ev.Type, "error", err)
	}
	p.store.MarkVerified()

	if p.nav == nil {
		return
	}
	switch ev.Type {
	case EventSignedIn:
		p.nav.Navigate(RouteDashboard)
	case EventSignedOut:
		p.nav.Navigate(RouteAuth)
	}
}
