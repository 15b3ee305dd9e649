// Package engine implements the forwarding core: the ingress/egress/reaper
// activities, the peer table, and the carrier-agnostic dispatch between
// the DGRAM and ICMP socket implementations.
package engine

import (
	"context"
	"fmt"
	"io"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/nstun/forwarder/db/statsdb"
	"github.com/nstun/forwarder/pkg/endpoint"
	"github.com/nstun/forwarder/pkg/obfuscate"
	"github.com/nstun/forwarder/pkg/socket"
	"github.com/nstun/forwarder/pkg/socket/icmp"
)

// DefaultReapInterval is the design default REAP_INTERVAL (§4.4).
const DefaultReapInterval = 7 * time.Minute

// Config configures a new Engine.
type Config struct {
	Listen       endpoint.Endpoint
	Remote       endpoint.Endpoint
	Passphrase   string
	ReapInterval time.Duration    // zero means DefaultReapInterval
	Recorder     statsdb.Recorder // nil means statsdb.NoopRecorder{}
	Logger       zerolog.Logger
	// Reflect enables ICMP ECHO-REPLY reflection mode on the listen side
	// when Listen.Carrier is endpoint.ICMP (§4.5); ignored otherwise.
	Reflect bool
}

// Engine is one forwarder instance: a bound listen socket, a dynamically
// sized peer table, and the three cooperating activities of §2.
type Engine struct {
	log          zerolog.Logger
	listen       endpoint.Endpoint
	remote       endpoint.Endpoint
	cipher       obfuscate.Cipher
	reapInterval time.Duration
	recorder     statsdb.Recorder

	server    socket.Server
	readiness socket.Readiness
	table     *peerTable
	metrics   *engineMetrics

	boundListen netip.AddrPort

	createdTotal atomic.Uint64
	reapedTotal  atomic.Uint64
}

// New binds the listen socket and readies the egress demultiplexer for cfg.
// The returned Engine owns both until Run returns.
func New(cfg Config) (*Engine, error) {
	reapInterval := cfg.ReapInterval
	if reapInterval <= 0 {
		reapInterval = DefaultReapInterval
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = statsdb.NoopRecorder{}
	}

	server, err := listenServer(cfg.Listen, cfg.Reflect)
	if err != nil {
		return nil, fmt.Errorf("engine: bind listen socket: %w", err)
	}

	readiness, err := newReadiness(cfg.Remote)
	if err != nil {
		server.Close()
		return nil, fmt.Errorf("engine: create readiness facility: %w", err)
	}

	return &Engine{
		log:          cfg.Logger,
		listen:       cfg.Listen,
		remote:       cfg.Remote,
		cipher:       obfuscate.New(cfg.Passphrase),
		reapInterval: reapInterval,
		recorder:     recorder,
		server:       server,
		readiness:    readiness,
		table:        newPeerTable(),
		metrics:      newEngineMetrics(cfg.Remote.Carrier),
		boundListen:  server.LocalAddr(),
	}, nil
}

// ListenAddr is the server socket's actual bound local address, which may
// differ from Config.Listen.Addr when that port was 0.
func (e *Engine) ListenAddr() netip.AddrPort {
	return e.boundListen
}

func listenServer(e endpoint.Endpoint, reflect bool) (socket.Server, error) {
	if e.Carrier == endpoint.ICMP {
		return icmp.NewServer(e.Addr, reflect)
	}
	return socket.ListenServer(e.Addr)
}

func newReadiness(remote endpoint.Endpoint) (socket.Readiness, error) {
	if remote.Carrier == endpoint.ICMP {
		return icmp.NewReadiness(addrFamily(remote.Addr))
	}
	return socket.NewUDPReadiness(), nil
}

// addrFamily reports 4 or 6 for addr's IP family.
func addrFamily(addr netip.AddrPort) int {
	if a := addr.Addr(); a.Is4() || a.Is4In6() {
		return 4
	}
	return 6
}

// Run starts the ingress, egress, and reaper activities and blocks until
// ctx is cancelled or one of them fails. A failure unrelated to ctx
// cancellation is returned so the caller can apply §5's fail-fast policy
// (log and terminate the process); cancellation itself returns nil after a
// clean shutdown of the sockets owned by this Engine.
func (e *Engine) Run(ctx context.Context) error {
	// runCtx is cancelled the moment shutdown begins for any reason, so
	// every loop's "am I shutting down or did my socket just fail" check
	// is reliable regardless of which trigger (caller cancellation or a
	// sibling activity's fatal error) started the shutdown.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)
	var wg sync.WaitGroup

	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(runCtx); err != nil && runCtx.Err() == nil {
				errCh <- fmt.Errorf("engine: %s: %w", name, err)
			}
		}()
	}

	run("ingress", e.runIngress)
	run("egress", e.runEgress)
	run("reaper", e.runReaper)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	cancel()
	e.server.Close()
	e.readiness.Close()
	wg.Wait()

	for _, p := range e.table.snapshot() {
		p.destroy(e.readiness)
	}

	if runErr != nil {
		return runErr
	}
	return nil
}

// Snapshot is a point-in-time read of engine diagnostics, used by the
// debug status page.
type Snapshot struct {
	PeerCount    int
	CreatedTotal uint64
	ReapedTotal  uint64
	Listen       string
	Remote       string
}

func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		PeerCount:    e.table.size(),
		CreatedTotal: e.createdTotal.Load(),
		ReapedTotal:  e.reapedTotal.Load(),
		Listen:       e.listen.String(),
		Remote:       e.remote.String(),
	}
}

// WritePrometheus writes the engine's metrics in VictoriaMetrics text
// exposition format.
func (e *Engine) WritePrometheus(w io.Writer) {
	e.metrics.set.WritePrometheus(w)
}
