// Package netbus carries bus topics between processes. A Hub relays CBOR
// frames between TCP connections; a Client implements ports.Bus on top of one
// connection to the hub, dispatching received messages through a local
// membus. Nothing is persisted: a client that is disconnected misses what is
// published meanwhile.
package netbus

const (
	kindHello = "hello"
	kindSub   = "sub"
	kindUnsub = "unsub"
	kindPub   = "pub"
	kindMsg   = "msg"
)

// frame is the single wire unit in both directions. Frames are
// self-delimiting CBOR items written back to back on the connection.
type frame struct {
	Kind    string `cbor:"k"`
	Topic   string `cbor:"t"`
	Payload []byte `cbor:"p,omitempty"`
	// Client is set on hello frames only.
	Client string `cbor:"c,omitempty"`
}
