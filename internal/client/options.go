package client

import (
	"github.com/born-ml/memrt/internal/device"
	"github.com/born-ml/memrt/internal/scalar"
)

// Option configures memref construction.
type Option func(*options)

type options struct {
	dtype  *scalar.Type
	device *device.Device
	owner  any
}

func collect(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithDType sets the element type of a buffer copy instead of inferring it.
func WithDType(t scalar.Type) Option {
	return func(o *options) { o.dtype = &t }
}

// WithDevice selects the memory space of an allocation.
func WithDevice(d *device.Device) Option {
	return func(o *options) { o.device = d }
}

// WithOwner keeps v reachable for as long as a view is in use.
func WithOwner(v any) Option {
	return func(o *options) { o.owner = v }
}
