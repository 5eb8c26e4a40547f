package session

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sebas/rocpipe/internal/endpoint"
	"github.com/sebas/rocpipe/internal/packet"
)

// sweepInterval is how often the pipeline loop's refresh tick checks
// this slot's sessions for the no-playback timeout, per spec.md §4.5's
// destruction policy.
const sweepInterval = 100 * time.Millisecond

// Binding is one endpoint of a slot: a validated URI plus the socket
// it owns once bound.
type Binding struct {
	URI  endpoint.URI
	Conn *net.UDPConn
}

// Slot is a named set of sibling endpoints (source, optional repair,
// optional control) generalizing the teacher's per-call session
// struct and endpoint grouping into spec.md §4.5's receiver slot: it
// owns a Router for the sessions arriving on its source/repair
// endpoints and the sockets those endpoints are bound to.
type Slot struct {
	mu sync.Mutex

	Name string

	Source  Binding
	Repair  *Binding
	Control *Binding

	Router *Router

	outbound *packet.Queue

	log *slog.Logger
}

// NewSlot validates the endpoint pairing (spec.md §6) and constructs a
// Slot with an admission router. Binding the actual UDP sockets is the
// caller's job (network I/O belongs to the pipeline's I/O plane, not
// this control-plane object).
func NewSlot(name string, source endpoint.URI, repair, control *endpoint.URI, maxSessions int, newSession func(ssrc uint32, addr *net.UDPAddr, cname string) (*Session, error)) (*Slot, error) {
	if err := endpoint.ValidatePair(source, repair); err != nil {
		return nil, err
	}

	s := &Slot{
		Name:     name,
		Source:   Binding{URI: source},
		Router:   NewRouter(maxSessions, newSession),
		outbound: packet.NewQueue(1024),
		log:      slog.Default().With("component", "Slot", "slot", name),
	}
	if repair != nil {
		s.Repair = &Binding{URI: *repair}
	}
	if control != nil {
		s.Control = &Binding{URI: *control}
	}
	return s, nil
}

// Bind attaches already-opened sockets to this slot's endpoints. The
// pipeline loop calls this once during slot creation, inside the
// task-serialized control plane (spec.md §4.7).
func (s *Slot) Bind(source *net.UDPConn, repair, control *net.UDPConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Source.Conn = source
	if s.Repair != nil {
		s.Repair.Conn = repair
	}
	if s.Control != nil {
		s.Control.Conn = control
	}
}

// Outbound returns the queue composed packets destined for this
// slot's peers are enqueued onto; a network thread drains and writes
// it (spec.md §5's outbound data-plane path).
func (s *Slot) Outbound() *packet.Queue { return s.outbound }

// Refresh performs this slot's share of the pipeline loop's data-plane
// tick (spec.md §4.7): sweeping sessions past their no-playback
// timeout. It satisfies the pipeline package's refreshable interface
// structurally, without either package importing the other.
func (s *Slot) Refresh(now time.Time) time.Duration {
	for _, sess := range s.Router.Sweep(now, 0) {
		s.log.Info("session removed, no-playback timeout", "ssrc", sess.SSRC)
	}
	return sweepInterval
}

// Close tears down every session in the slot and releases its socket
// bindings concurrently, both before the caller's wait returns. The
// outbound queue is not drained: packets still queued on it are
// neither written nor released.
func (s *Slot) Close(ctx context.Context) error {
	s.mu.Lock()
	conns := []*net.UDPConn{s.Source.Conn}
	if s.Repair != nil {
		conns = append(conns, s.Repair.Conn)
	}
	if s.Control != nil {
		conns = append(conns, s.Control.Conn)
	}
	s.mu.Unlock()

	for _, sess := range s.Router.Sessions() {
		s.Router.RemoveBySSRC(sess.SSRC)
	}

	g, _ := errgroup.WithContext(ctx)
	for _, c := range conns {
		c := c
		if c == nil {
			continue
		}
		g.Go(func() error {
			return c.Close()
		})
	}
	if err := g.Wait(); err != nil {
		s.log.Warn("error releasing endpoint bindings", "err", err)
		return err
	}
	s.log.Info("slot closed")
	return nil
}
