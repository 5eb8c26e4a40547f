package packet

import (
	"sync"

	"github.com/sebas/rocpipe/internal/status"
)

// Factory is a pool-backed packet allocator, generalizing spec.md §5's
// "per-context arenas... packets are indices into a pool" guidance: a
// bounded sync.Pool stands in for the arena, and NewPacket surfaces
// NoMem once the configured ceiling is reached instead of growing
// without bound.
type Factory struct {
	pool sync.Pool

	mu       sync.Mutex
	inUse    int
	capacity int // 0 = unbounded
}

// NewFactory returns a Factory. capacity caps the number of
// concurrently live packets; 0 means unbounded (relies on GC alone,
// matching a plain heap arena).
func NewFactory(capacity int) *Factory {
	f := &Factory{capacity: capacity}
	f.pool.New = func() any { return &Packet{} }
	return f
}

// NewPacket returns a fresh, zeroed packet with a reference count of
// one, or status.ErrNoMem if the factory is at capacity.
func (f *Factory) NewPacket() (*Packet, error) {
	if f.capacity > 0 {
		f.mu.Lock()
		if f.inUse >= f.capacity {
			f.mu.Unlock()
			return nil, status.ErrNoMem
		}
		f.inUse++
		f.mu.Unlock()
	}

	p := f.pool.Get().(*Packet)
	p.Flags = 0
	p.RTP = nil
	p.UDP = nil
	p.FEC = nil
	p.RTCP = nil
	p.Payload = p.Payload[:0]
	p.factory = f
	p.refs.Store(1)
	return p, nil
}

func (f *Factory) put(p *Packet) {
	if f.capacity > 0 {
		f.mu.Lock()
		if f.inUse > 0 {
			f.inUse--
		}
		f.mu.Unlock()
	}
	p.factory = nil
	f.pool.Put(p)
}

// InUse returns the number of packets currently checked out (only
// tracked when the factory was constructed with a nonzero capacity).
func (f *Factory) InUse() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inUse
}
