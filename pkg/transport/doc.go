// Package transport carries encoded protocol messages between a scan client
// and a remote controller.
//
// Every carrier delivers whole messages through the Conn interface:
//
//	┌────────────────────────────────────────┐
//	│      CBOR messages (pkg/wire)          │
//	├──────────────┬───────────┬─────────────┤
//	│ 4-byte length│ WebSocket │    MQTT     │
//	│   framing    │  binary   │  publish    │
//	├──────────────┤  message  │             │
//	│ TCP / Pipe   │           │             │
//	└──────────────┴───────────┴─────────────┘
//
// Stream carriers (TCP and the in-memory Pipe) prefix each message with its
// length as a big-endian uint32. WebSocket and MQTT are message oriented and
// carry one encoded message per WebSocket message or MQTT publish.
//
// MQTT topics follow scan/<device>/<client>/req for requests and
// scan/<device>/<client>/rep for replies and updates.
package transport
