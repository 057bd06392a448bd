// Package ingest runs the TCP side of the gateway: it accepts tracker
// connections, drives the per-connection login and streaming state machine,
// and feeds decoded records into the store. Every connection is handled by
// its own goroutine with no shared mutable state beyond the store, the
// admission cache, and the metrics registry.
package ingest

import (
	"context"
	"errors"
	"net"
	"sync"

	cache "github.com/patrickmn/go-cache"

	"github.com/waypoint-data/fleetgate/internal/avl"
	"github.com/waypoint-data/fleetgate/internal/config"
	"github.com/waypoint-data/fleetgate/internal/monitoring"
	"github.com/waypoint-data/fleetgate/internal/rawlog"
	"github.com/waypoint-data/fleetgate/internal/store"
	"github.com/waypoint-data/fleetgate/internal/timeutil"
)

// Server accepts tracker connections and spawns a session per connection.
type Server struct {
	store  store.Store
	tuning *config.Tuning
	clock  timeutil.Clock
	frames *rawlog.Writer
	events *rawlog.Writer

	// devices caches admission lookups so reconnect bursts do not hammer
	// the store. A nil entry is a cached not-found.
	devices *cache.Cache
}

// NewServer wires a TCP ingest server. frames and events are the hourly
// capture writers; clock is swapped for a mock in tests.
func NewServer(st store.Store, tuning *config.Tuning, clock timeutil.Clock, frames, events *rawlog.Writer) *Server {
	ttl := tuning.GetDeviceCacheTTL()
	return &Server{
		store:   st,
		tuning:  tuning,
		clock:   clock,
		frames:  frames,
		events:  events,
		devices: cache.New(ttl, 2*ttl),
	}
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	monitoring.Logf("[ingest] listening on %s", ln.Addr())
	return s.Serve(ctx, ln)
}

// Serve accepts connections from ln until ctx is cancelled, then waits for
// in-flight sessions to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			monitoring.Logf("[ingest] accept: %v", err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
	wg.Wait()
	return nil
}

// handleConn runs one session to completion.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	newSession(s, conn).run(ctx)
}

// lookupDevice resolves an IMEI through the admission cache.
func (s *Server) lookupDevice(ctx context.Context, imei string) (*avl.Device, error) {
	if v, ok := s.devices.Get(imei); ok {
		if v == nil {
			return nil, store.ErrNotFound
		}
		return v.(*avl.Device), nil
	}
	d, err := s.store.GetDevice(ctx, imei)
	if err == nil {
		s.devices.SetDefault(imei, d)
		return d, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		s.devices.SetDefault(imei, nil)
	}
	// ErrUnavailable and transient errors are never cached; the next
	// connection retries the store.
	return nil, err
}
