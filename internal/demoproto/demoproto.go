// Package demoproto defines the wire-level shapes shared by the two demo
// binaries (cmd/hostbridged, cmd/guestshim), standing in for a generated
// ABI shim. A real deployment generates this agreement from an interface
// description instead of hand-writing it.
package demoproto

// EchoHandlerID is the handler id hostbridged registers for the shallow
// round-trip / chained-response demo.
const EchoHandlerID = 6

// SumArrayHandlerID is the handler id hostbridged registers for the counted
// array demo.
const SumArrayHandlerID = 7

// Uint128 mirrors a 16-byte, 8-byte-aligned C uint128_t well enough for
// WriteShallow/ReadShallow: two 64-bit halves in native order, with no
// hidden padding or methods that would change its size or alignment.
type Uint128 struct {
	Lo uint64
	Hi uint64
}
