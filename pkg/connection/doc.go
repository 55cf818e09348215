// Package connection keeps a client's link to a controller open.
//
// A Manager dials through a DialFunc and watches the resulting
// transport.Conn. When the connection ends it redials with exponential
// backoff:
//
//	delay(n) = min(initial * multiplier^n, max) + random(0, delay * jitter)
//
// The delay returns to its initial value after every successful dial.
// Reconnection only restores the link; requests that were in flight when
// it dropped have already failed and are not replayed.
package connection
