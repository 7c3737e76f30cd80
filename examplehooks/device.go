// Package examplehooks demonstrates the deep-serializer hook contract for shim authors: the transport
// package has no knowledge of concrete payload shapes, so every deep field
// needs a matching pair of transport.DeepWriteFunc / transport.DeepReadFunc
// (or the per-element variants) supplied by the code that does know the
// shape.
//
// This package is deliberately not internal/: it is reference material for
// shim authors, not something the core engine imports.
package examplehooks

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/kestrelvm/transport"
)

// DeviceDescriptor is a representative variable-shaped payload — a name
// plus an extension list — of the kind an ABI shim's "enumerate device"
// entry point might carry as the deep-followed part of a call.
type DeviceDescriptor struct {
	Name       string   `msgpack:"name"`
	Extensions []string `msgpack:"extensions"`
}

// WriteDeviceDescriptor is a transport.DeepWriteFunc[DeviceDescriptor]. It
// msgpack-encodes the descriptor and writes it as a length-prefixed raw
// block. The wire header and hot primitive path never import msgpack
// themselves; only a hook that opts in, like this one, does.
func WriteDeviceDescriptor(w *transport.PacketWriter, d *DeviceDescriptor) {
	data, err := msgpack.Marshal(d)
	if err != nil {
		// A DeviceDescriptor's fields are always msgpack-encodable; a
		// failure here means the caller built an invalid value, which is a
		// programmer bug at the same level as the transport's own protocol
		// misuse panics.
		panic(err)
	}
	transport.WriteShallow(w, uint32(len(data)))
	w.WriteRawBytes(data)
}

// ReadDeviceDescriptor is a transport.DeepReadFunc[DeviceDescriptor], the
// dual of WriteDeviceDescriptor.
func ReadDeviceDescriptor(r *transport.PacketReader) *DeviceDescriptor {
	n := transport.ReadShallow[uint32](r)
	data := r.ReadRawBytes(int(n))
	var d DeviceDescriptor
	if err := msgpack.Unmarshal(data, &d); err != nil {
		panic(err)
	}
	return &d
}
