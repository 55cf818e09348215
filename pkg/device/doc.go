// Package device implements the run state machine shared by every runnable
// device, and the devices a scan drives.
//
// # States
//
// A device is always in one of eighteen states. Predicates on State decide
// which operations are legal: Run needs IsRunnable, Abort needs
// IsAbortable, Reset needs IsResettable and Configure needs a state that is
// not transient. An operation attempted from any other state fails with a
// *ScanningError naming the current and required states, and leaves the
// state untouched.
//
// # Running
//
// Run blocks until the run ends. Start runs in a new goroutine and returns
// a *RunHandle whose Join reports the run's error. Abort may be called from
// any goroutine while Run blocks; the run stops at the next position
// boundary and the device ends in ABORTED.
//
// # Devices
//
// Device is the capability interface for things that move: motors, stages
// and the like. Scannable is a composed implementation. Positioner moves a
// set of devices to a Position, lower levels first. AcquisitionDevice walks
// a points.Generator, moving the positioner and triggering detectors at
// every position.
package device
