package session

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/sebas/rocpipe/internal/packet"
)

// Router admits inbound packets into the right Session, implementing
// spec.md §4.5's policy: try the source-id map first, fall back to
// address and first-bind a new session there, gate creation on the
// session cap, otherwise drop. It also folds in the RTCP CNAME
// unification rule (spec.md §4.5, §8.8).
type Router struct {
	mu sync.Mutex

	bySourceID map[uint32]*Session
	byAddress  map[string]*Session
	cnames     map[string]uint32 // cname -> ssrc of the session currently holding it

	sem *semaphore.Weighted

	newSession func(ssrc uint32, addr *net.UDPAddr, cname string) (*Session, error)

	log *slog.Logger
}

// NewRouter returns a Router capped at maxSessions concurrent
// sessions. newSession is the factory the router calls on admission of
// a previously-unseen source id/address pair.
func NewRouter(maxSessions int, newSession func(ssrc uint32, addr *net.UDPAddr, cname string) (*Session, error)) *Router {
	return &Router{
		bySourceID: make(map[uint32]*Session),
		byAddress:  make(map[string]*Session),
		cnames:     make(map[string]uint32),
		sem:        semaphore.NewWeighted(int64(maxSessions)),
		newSession: newSession,
		log:        slog.Default().With("component", "SessionRouter"),
	}
}

// CanCreateSession reports whether the router is under its session
// cap right now, without reserving a slot.
func (r *Router) CanCreateSession() bool {
	if r.sem.TryAcquire(1) {
		r.sem.Release(1)
		return true
	}
	return false
}

// Route admits p, arriving from addr, into a Session: an existing
// session for p.RTP.SourceID if one exists, else an existing session
// bound to addr, else a newly created one if under the session cap.
// It returns nil, nil if the packet was dropped for admission reasons
// (no RTP facet, or session cap exhausted).
func (r *Router) Route(p *packet.Packet, addr *net.UDPAddr, now time.Time) (*Session, error) {
	if p.RTP == nil {
		return nil, nil
	}
	ssrc := p.RTP.SourceID

	r.mu.Lock()
	if s, ok := r.bySourceID[ssrc]; ok {
		r.mu.Unlock()
		s.HandlePacket(p, now)
		return s, nil
	}

	addrKey := addr.String()
	if s, ok := r.byAddress[addrKey]; ok {
		// First packet from this address under a new SSRC: bind it,
		// same session (address-based first-bind per spec.md §4.5).
		r.bySourceID[ssrc] = s
		r.mu.Unlock()
		s.HandlePacket(p, now)
		return s, nil
	}
	r.mu.Unlock()

	if !r.sem.TryAcquire(1) {
		r.log.Warn("session cap reached, dropping packet", "ssrc", ssrc, "addr", addrKey)
		return nil, nil
	}

	s, err := r.newSession(ssrc, addr, "")
	if err != nil {
		r.sem.Release(1)
		return nil, err
	}

	r.mu.Lock()
	r.bySourceID[ssrc] = s
	r.byAddress[addrKey] = s
	r.mu.Unlock()

	s.HandlePacket(p, now)
	return s, nil
}

// UnifyCNAME folds an RTCP-reported CNAME for ssrc into the router's
// bookkeeping. A CNAME appearing for a new SSRC whose address matches
// an existing session unifies the two under the existing session; the
// same CNAME reported from a different address than the session
// holding it halts that older session (spec.md §4.5, §8.8). A second,
// different CNAME reported on an address already bound to a session
// halts nothing: it is only recorded for its SSRC.
func (r *Router) UnifyCNAME(ssrc uint32, cname string, addr *net.UDPAddr) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existingSSRC, seen := r.cnames[cname]
	if !seen {
		r.cnames[cname] = ssrc
		if s, ok := r.bySourceID[ssrc]; ok {
			s.CNAME = cname
		}
		return
	}
	if existingSSRC == ssrc {
		return
	}

	existing, ok := r.bySourceID[existingSSRC]
	if !ok {
		r.cnames[cname] = ssrc
		return
	}

	if addr != nil && existing.Addr != nil && existing.Addr.String() == addr.String() {
		// Same address, new SSRC, same CNAME: unify by aliasing the new
		// SSRC onto the existing session rather than creating a second
		// one.
		r.bySourceID[ssrc] = existing
		return
	}

	// Conflicting unification: two different addresses claim the same
	// CNAME. Halt the older session; the new one keeps the name.
	r.log.Warn("cname conflict, halting older session", "cname", cname, "old_ssrc", existingSSRC, "new_ssrc", ssrc)
	r.removeLocked(existingSSRC)
	r.cnames[cname] = ssrc
}

// Sweep removes every session that has gone silent past its own
// no-playback timeout, returning the removed sessions so the caller
// can release any resources they hold. A nonzero timeout applies in
// addition to that per-session value (a session also expires once
// silent longer than timeout), letting callers force an aggressive
// sweep (e.g. on shutdown) without reconfiguring every session.
func (r *Router) Sweep(now time.Time, timeout time.Duration) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []*Session
	seen := make(map[*Session]bool)
	for _, s := range r.bySourceID {
		if seen[s] {
			continue
		}
		expired := s.Expired(now)
		if !expired && timeout > 0 && !s.lastRecv.IsZero() {
			expired = now.Sub(s.lastRecv) > timeout
		}
		if expired {
			removed = append(removed, s)
			seen[s] = true
		}
	}
	for _, s := range removed {
		r.removeSessionLocked(s)
	}
	return removed
}

// RemoveBySSRC tears down the session owning ssrc immediately, per an
// RTCP BYE (spec.md §4.5's immediate-removal case).
func (r *Router) RemoveBySSRC(ssrc uint32) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.bySourceID[ssrc]
	if !ok {
		return nil
	}
	r.removeSessionLocked(s)
	return s
}

func (r *Router) removeLocked(ssrc uint32) {
	if s, ok := r.bySourceID[ssrc]; ok {
		r.removeSessionLocked(s)
	}
}

func (r *Router) removeSessionLocked(target *Session) {
	for ssrc, s := range r.bySourceID {
		if s == target {
			delete(r.bySourceID, ssrc)
		}
	}
	for addr, s := range r.byAddress {
		if s == target {
			delete(r.byAddress, addr)
		}
	}
	for cname, ssrc := range r.cnames {
		if s, ok := r.bySourceID[ssrc]; !ok || s == target {
			delete(r.cnames, cname)
		}
	}
	r.sem.Release(1)
}

// Sessions returns a snapshot of every distinct session currently
// tracked, for metrics enumeration.
func (r *Router) Sessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[*Session]bool, len(r.bySourceID))
	out := make([]*Session, 0, len(r.bySourceID))
	for _, s := range r.bySourceID {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
