package dlpack

import (
	"fmt"
	"runtime"
	"sync"
)

// Capsule names.
const (
	CapsuleName     = "dltensor_versioned"
	UsedCapsuleName = "used_dltensor_versioned"
)

// Capsule hands one ManagedTensor to exactly one consumer.
//
// A capsule that is closed or dropped before anybody consumed it runs the
// tensor's deleter itself. Once consumed, the deleter is the consumer's job.
type Capsule struct {
	st      *capsuleState
	cleanup runtime.Cleanup
}

type capsuleState struct {
	mu     sync.Mutex
	name   string
	tensor *ManagedTensor
	closed bool
}

// NewCapsule wraps mt in a fresh, unconsumed capsule.
func NewCapsule(mt *ManagedTensor) *Capsule {
	c := &Capsule{st: &capsuleState{name: CapsuleName, tensor: mt}}
	c.cleanup = runtime.AddCleanup(c, func(st *capsuleState) { _ = st.close() }, c.st)
	return c
}

// Name returns the current capsule name.
func (c *Capsule) Name() string {
	c.st.mu.Lock()
	defer c.st.mu.Unlock()
	return c.st.name
}

// Consumed reports whether the tensor was handed out.
func (c *Capsule) Consumed() bool { return c.Name() == UsedCapsuleName }

// Peek returns the tensor without taking ownership of it.
func (c *Capsule) Peek() (*ManagedTensor, error) {
	c.st.mu.Lock()
	defer c.st.mu.Unlock()
	if err := c.st.usable(); err != nil {
		return nil, err
	}
	return c.st.tensor, nil
}

// Consume hands out the tensor and renames the capsule. The caller now
// owns the tensor and must call Delete on it exactly once.
func (c *Capsule) Consume() (*ManagedTensor, error) {
	c.st.mu.Lock()
	defer c.st.mu.Unlock()
	if err := c.st.usable(); err != nil {
		return nil, err
	}
	c.st.name = UsedCapsuleName
	return c.st.tensor, nil
}

// Close runs the deleter of an unconsumed capsule. Closing a consumed or
// closed capsule does nothing.
func (c *Capsule) Close() error {
	err := c.st.close()
	c.cleanup.Stop()
	return err
}

func (st *capsuleState) usable() error {
	if st.name == UsedCapsuleName {
		return ErrCapsuleConsumed
	}
	if st.closed {
		return fmt.Errorf("%w: capsule closed", ErrCapsuleConsumed)
	}
	return nil
}

func (st *capsuleState) close() error {
	st.mu.Lock()
	if st.closed || st.name == UsedCapsuleName {
		st.closed = true
		st.mu.Unlock()
		return nil
	}
	st.closed = true
	mt := st.tensor
	st.mu.Unlock()
	return mt.Delete()
}
