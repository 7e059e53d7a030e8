package lifetime

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Coordinator indexes the live storages of one runtime client.
//
// Storages are indexed by id and, when they have a non-zero address, by
// Key so that a second view over the same memory joins the existing
// control block. The mutex only guards the index; finalisers run outside it.
type Coordinator struct {
	mu     sync.Mutex
	byID   map[uint64]*Storage
	byKey  map[Key]*Storage
	nextID atomic.Uint64

	// Storages forgotten whose finaliser has not returned yet, and the
	// callbacks waiting for both counts to reach zero. Guarded by mu.
	settling int
	idle     []func()

	registered atomic.Uint64
	finalized  atomic.Uint64

	logger *slog.Logger
}

// NewCoordinator creates an empty coordinator. A nil logger discards output.
func NewCoordinator(logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Coordinator{
		byID:   make(map[uint64]*Storage),
		byKey:  make(map[Key]*Storage),
		logger: logger,
	}
}

// Register creates a storage with one reference.
// finalize runs once when the count reaches zero; it may be nil.
func (c *Coordinator) Register(key Key, finalize func() error) *Storage {
	s := &Storage{
		id:       c.nextID.Add(1),
		key:      key,
		finalize: finalize,
		coord:    c,
	}
	s.refs.Store(1)

	c.mu.Lock()
	c.byID[s.id] = s
	if key.Addr != 0 {
		if _, taken := c.byKey[key]; !taken {
			c.byKey[key] = s
		}
	}
	c.mu.Unlock()

	c.registered.Add(1)
	c.logger.Debug("storage registered", "id", s.id, "addr", fmt.Sprintf("%#x", key.Addr), "device", deviceName(key))
	return s
}

// Adopt retains the live storage registered under key, if there is one.
func (c *Coordinator) Adopt(key Key) (*Storage, bool) {
	if key.Addr == 0 {
		return nil, false
	}
	c.mu.Lock()
	s := c.byKey[key]
	c.mu.Unlock()

	if s == nil || s.Retain() != nil {
		return nil, false
	}
	return s, true
}

// Lookup returns the live storage with the given id.
func (c *Coordinator) Lookup(id uint64) (*Storage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.byID[id]
	return s, ok
}

// Retain adds a holder to the storage with the given id.
func (c *Coordinator) Retain(id uint64) error {
	s, ok := c.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: storage %d is not live", ErrUseAfterFree, id)
	}
	return s.Retain()
}

// Release drops a holder from the storage with the given id.
func (c *Coordinator) Release(id uint64) error {
	s, ok := c.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: storage %d is not live", ErrUseAfterFree, id)
	}
	return s.Release()
}

// Live returns the number of storages that still have holders.
func (c *Coordinator) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byID)
}

// WhenIdle runs fn once no storage is live and every finaliser has
// returned. It runs fn before returning when that already holds.
func (c *Coordinator) WhenIdle(fn func()) {
	c.mu.Lock()
	if len(c.byID) > 0 || c.settling > 0 {
		c.idle = append(c.idle, fn)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	fn()
}

// Stats returns how many storages were registered and finalised so far.
func (c *Coordinator) Stats() (registered, finalized uint64) {
	return c.registered.Load(), c.finalized.Load()
}

func (c *Coordinator) forget(s *Storage) {
	c.mu.Lock()
	delete(c.byID, s.id)
	if c.byKey[s.key] == s {
		delete(c.byKey, s.key)
	}
	c.settling++
	c.mu.Unlock()

	c.finalized.Add(1)
	c.logger.Debug("storage finalized", "id", s.id, "addr", fmt.Sprintf("%#x", s.key.Addr), "device", deviceName(s.key))
}

// settle runs after the finaliser of a forgotten storage has returned.
func (c *Coordinator) settle() {
	c.mu.Lock()
	c.settling--
	var run []func()
	if len(c.byID) == 0 && c.settling == 0 {
		run, c.idle = c.idle, nil
	}
	c.mu.Unlock()

	for _, fn := range run {
		fn()
	}
}

func deviceName(k Key) string {
	if k.Device == nil {
		return "none"
	}
	return k.Device.String()
}
