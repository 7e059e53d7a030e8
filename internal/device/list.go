package device

import "fmt"

// List is the device table of a runtime client.
// It is built once and never mutated afterwards.
type List struct {
	host   *Device
	accels []*Device
}

// NewList enumerates host and accelerator drivers in the given order.
// Device ids are assigned per platform, starting at zero.
func NewList(host Driver, accels ...Driver) *List {
	ids := make(map[Platform]int32)

	l := &List{
		host:   &Device{index: -1, id: 0, driver: host},
		accels: make([]*Device, 0, len(accels)),
	}
	ids[host.Platform()]++

	for i, drv := range accels {
		p := drv.Platform()
		l.accels = append(l.accels, &Device{index: i, id: ids[p], driver: drv})
		ids[p]++
	}
	return l
}

// Host returns the host memory space.
func (l *List) Host() *Device { return l.host }

// Accelerators returns the accelerator devices in enumeration order.
func (l *List) Accelerators() []*Device {
	out := make([]*Device, len(l.accels))
	copy(out, l.accels)
	return out
}

// Len returns the number of accelerators.
func (l *List) Len() int { return len(l.accels) }

// At returns the accelerator at index i.
func (l *List) At(i int) (*Device, error) {
	if i < 0 || i >= len(l.accels) {
		return nil, fmt.Errorf("%w: index %d (have %d)", ErrNoDevice, i, len(l.accels))
	}
	return l.accels[i], nil
}

// Lookup finds the device with the given DLPack platform and id.
func (l *List) Lookup(p Platform, id int32) (*Device, bool) {
	if l.host.Platform() == p && l.host.id == id {
		return l.host, true
	}
	for _, d := range l.accels {
		if d.Platform() == p && d.id == id {
			return d, true
		}
	}
	return nil, false
}

// Contains reports whether d belongs to this list.
func (l *List) Contains(d *Device) bool {
	if d == l.host {
		return true
	}
	for _, a := range l.accels {
		if a == d {
			return true
		}
	}
	return false
}
