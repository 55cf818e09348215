// Package wire defines the messages exchanged with a remote run controller
// and their CBOR encoding.
//
// Every message carries an integer id. Requests (GET, CALL, SUBSCRIBE,
// UNSUBSCRIBE) are sent by the client with a fresh id; replies (RETURN,
// UPDATE, ERROR) echo the id of the request they answer. UPDATE messages
// answer a SUBSCRIBE and keep arriving until it is cancelled.
//
// # Keys
//
// Messages are CBOR maps with integer keys:
//
//	{
//	  1: id,          // int64, strictly increasing per sender
//	  2: type,        // uint8, see MessageType
//	  3: endpoint,    // string, GET and SUBSCRIBE
//	  4: method,      // lower-cased string, CALL
//	  5: arguments,   // any, CALL and UNSUBSCRIBE
//	  6: value,       // any, RETURN and UPDATE
//	  7: error,       // string, ERROR
//	  8: seq          // uint64, UPDATE ordering
//	}
//
// Arguments and values decode as map[string]any, []any, string, bool,
// float64, int64 or uint64.
package wire
