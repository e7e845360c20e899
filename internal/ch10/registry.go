package ch10

import (
	"fmt"
	"sync"
)

// Codec decodes the data buffer of one payload format.
type Codec interface {
	Decode(h Header, data []byte) (any, error)
}

// CodecFunc adapts a function to Codec.
type CodecFunc func(h Header, data []byte) (any, error)

func (f CodecFunc) Decode(h Header, data []byte) (any, error) { return f(h, data) }

// MessageIter walks the messages of one packet. Next returns ErrNoMoreData
// after the last message.
type MessageIter interface {
	Next() (any, error)
}

// MessageCodec is implemented by codecs whose packets carry a sequence of
// messages.
type MessageCodec interface {
	Codec
	First(h Header, data []byte) (MessageIter, error)
}

// Registry maps data types to codecs. The zero value is not usable; use
// NewRegistry.
type Registry struct {
	mu     sync.RWMutex
	codecs map[DataType]Codec
}

// NewRegistry returns a registry with the built-in Time F1 codec.
func NewRegistry() *Registry {
	r := &Registry{codecs: make(map[DataType]Codec)}
	r.Register(DataTypeTimeF1, CodecFunc(func(_ Header, data []byte) (any, error) {
		return DecodeTimeF1(data)
	}))
	return r
}

// Register installs c for dt, replacing any previous codec.
func (r *Registry) Register(dt DataType, c Codec) {
	r.mu.Lock()
	r.codecs[dt] = c
	r.mu.Unlock()
}

func (r *Registry) Lookup(dt DataType) (Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codecs[dt]
	return c, ok
}

// Decode dispatches data to the codec registered for h.DataType.
func (r *Registry) Decode(h Header, data []byte) (any, error) {
	c, ok := r.Lookup(h.DataType)
	if !ok {
		return nil, fmt.Errorf("%w: no codec for data type %s", ErrUnsupported, h.DataType)
	}
	return c.Decode(h, data)
}

// First starts message iteration over a packet whose codec supports it.
func (r *Registry) First(h Header, data []byte) (MessageIter, error) {
	c, ok := r.Lookup(h.DataType)
	if !ok {
		return nil, fmt.Errorf("%w: no codec for data type %s", ErrUnsupported, h.DataType)
	}
	mc, ok := c.(MessageCodec)
	if !ok {
		return nil, fmt.Errorf("%w: data type %s has no message iteration", ErrUnsupported, h.DataType)
	}
	return mc.First(h, data)
}

// Types lists the registered data types.
func (r *Registry) Types() []DataType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]DataType, 0, len(r.codecs))
	for dt := range r.codecs {
		out = append(out, dt)
	}
	return out
}
