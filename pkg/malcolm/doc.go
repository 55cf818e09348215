// Package malcolm drives devices whose configure, run and abort are remote
// procedure calls to an external controller.
//
// A Connector correlates requests and replies over a transport.Conn and
// routes pushed updates to subscriptions. Device is a device.RunnableDevice
// backed by a Connector; it mirrors the controller's state, busy flag,
// health and progress through subscriptions. Server is the other end: it
// exposes a local device.RunnableDevice over the same protocol.
//
// # Message ids
//
// Request ids come from an IDCounter. Connectors share DefaultIDs, a
// process-wide sequence, unless given their own counter, so ids are unique
// across every connection made by the process. Tests inject a fresh
// counter to get predictable ids.
//
// # Ordering
//
// Every UPDATE carries a sequence number. Device keeps the highest number
// seen per endpoint and drops updates at or below it, so a late update can
// never roll the mirrored state backwards.
package malcolm
