package lifetime

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/born-ml/memrt/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetainRelease(t *testing.T) {
	c := NewCoordinator(nil)
	var freed atomic.Int32
	s := c.Register(Key{Addr: 0x1000}, func() error {
		freed.Add(1)
		return nil
	})

	assert.Equal(t, int64(1), s.Refs())
	require.NoError(t, s.Retain())
	require.NoError(t, s.Retain())
	assert.Equal(t, int64(3), s.Refs())

	require.NoError(t, s.Release())
	require.NoError(t, s.Release())
	assert.Zero(t, freed.Load())
	assert.Equal(t, 1, c.Live())

	require.NoError(t, s.Release())
	assert.Equal(t, int32(1), freed.Load())
	assert.Zero(t, c.Live())
	assert.False(t, s.Alive())
}

func TestReleaseUnderflow(t *testing.T) {
	c := NewCoordinator(nil)
	s := c.Register(Key{}, nil)
	require.NoError(t, s.Release())

	err := s.Release()
	require.ErrorIs(t, err, ErrUseAfterFree)
	assert.Zero(t, s.Refs(), "failed release must not corrupt the count")

	require.ErrorIs(t, s.Retain(), ErrUseAfterFree)
	assert.Zero(t, s.Refs())
}

func TestCoordinatorByID(t *testing.T) {
	c := NewCoordinator(nil)
	s := c.Register(Key{}, nil)

	got, ok := c.Lookup(s.ID())
	require.True(t, ok)
	assert.Same(t, s, got)

	require.NoError(t, c.Retain(s.ID()))
	require.NoError(t, c.Release(s.ID()))
	require.NoError(t, c.Release(s.ID()))

	require.ErrorIs(t, c.Release(s.ID()), ErrUseAfterFree)
	require.ErrorIs(t, c.Retain(s.ID()), ErrUseAfterFree)

	registered, finalized := c.Stats()
	assert.Equal(t, uint64(1), registered)
	assert.Equal(t, uint64(1), finalized)
}

func TestAdoptSharesIdentity(t *testing.T) {
	c := NewCoordinator(nil)
	dev := device.NewList(device.NewHost()).Host()
	key := Key{Device: dev, Addr: 0xbeef}

	var freed atomic.Int32
	s := c.Register(key, func() error { freed.Add(1); return nil })

	alias, ok := c.Adopt(key)
	require.True(t, ok)
	assert.Same(t, s, alias)
	assert.Equal(t, int64(2), s.Refs())

	_, ok = c.Adopt(Key{Device: dev, Addr: 0xdead})
	assert.False(t, ok)
	_, ok = c.Adopt(Key{Device: dev})
	assert.False(t, ok, "zero address never aliases")

	require.NoError(t, s.Release())
	require.NoError(t, alias.Release())
	assert.Equal(t, int32(1), freed.Load())

	_, ok = c.Adopt(key)
	assert.False(t, ok, "dead storage must not be adopted")
}

func TestRegisterKeepsFirstKeyOwner(t *testing.T) {
	c := NewCoordinator(nil)
	key := Key{Addr: 0x42}
	first := c.Register(key, nil)
	second := c.Register(key, nil)
	assert.NotEqual(t, first.ID(), second.ID())

	got, ok := c.Adopt(key)
	require.True(t, ok)
	assert.Same(t, first, got)
	require.NoError(t, got.Release())

	// Once the indexed storage dies, its key is free again, but the second
	// registration was never indexed.
	require.NoError(t, first.Release())
	_, ok = c.Adopt(key)
	assert.False(t, ok)
	require.NoError(t, second.Release())
}

func TestFinalizeError(t *testing.T) {
	c := NewCoordinator(nil)
	boom := errors.New("boom")
	s := c.Register(Key{}, func() error { return boom })
	err := s.Release()
	require.ErrorIs(t, err, boom)
	assert.Zero(t, c.Live())
}

func TestConcurrentReleaseFinalizesOnce(t *testing.T) {
	const holders = 64
	for round := 0; round < 50; round++ {
		c := NewCoordinator(nil)
		var freed atomic.Int32
		s := c.Register(Key{Addr: 0x10}, func() error {
			freed.Add(1)
			return nil
		})
		for i := 1; i < holders; i++ {
			require.NoError(t, s.Retain())
		}

		var wg sync.WaitGroup
		var failures atomic.Int32
		start := make(chan struct{})
		for i := 0; i < holders; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if err := s.Release(); err != nil {
					failures.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()

		require.Zero(t, failures.Load())
		require.Equal(t, int32(1), freed.Load())
		require.Zero(t, c.Live())
	}
}

func TestConcurrentRetainReleaseRace(t *testing.T) {
	c := NewCoordinator(nil)
	var freed atomic.Int32
	s := c.Register(Key{}, func() error {
		freed.Add(1)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				if err := s.Retain(); err != nil {
					t.Error(err)
					return
				}
				if err := s.Release(); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), s.Refs())
	assert.Zero(t, freed.Load())
	require.NoError(t, s.Release())
	assert.Equal(t, int32(1), freed.Load())
}

func TestWhenIdle(t *testing.T) {
	c := NewCoordinator(nil)

	var ran int
	c.WhenIdle(func() { ran++ })
	assert.Equal(t, 1, ran, "no live storage runs at once")

	var order []string
	a := c.Register(Key{Addr: 0x10}, func() error {
		order = append(order, "free a")
		return nil
	})
	b := c.Register(Key{Addr: 0x20}, func() error {
		order = append(order, "free b")
		return nil
	})
	c.WhenIdle(func() { order = append(order, "idle") })
	c.WhenIdle(func() { ran++ })

	require.NoError(t, a.Release())
	assert.Equal(t, []string{"free a"}, order)
	assert.Equal(t, 1, ran)

	require.NoError(t, b.Release())
	assert.Equal(t, []string{"free a", "free b", "idle"}, order, "idle runs after the last finaliser")
	assert.Equal(t, 2, ran)

	// Callbacks fire once.
	d := c.Register(Key{}, nil)
	require.NoError(t, d.Release())
	assert.Equal(t, 2, ran)
}

func TestWhenIdleConcurrentRelease(t *testing.T) {
	const holders = 32
	c := NewCoordinator(nil)
	var freed, idle atomic.Int32
	storages := make([]*Storage, holders)
	for i := range storages {
		storages[i] = c.Register(Key{}, func() error {
			freed.Add(1)
			return nil
		})
	}
	c.WhenIdle(func() {
		assert.Equal(t, int32(holders), freed.Load())
		idle.Add(1)
	})

	var wg sync.WaitGroup
	for _, s := range storages {
		wg.Add(1)
		go func(s *Storage) {
			defer wg.Done()
			assert.NoError(t, s.Release())
		}(s)
	}
	wg.Wait()
	assert.Equal(t, int32(1), idle.Load())
}
