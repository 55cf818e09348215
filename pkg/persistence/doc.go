// Package persistence saves scan checkpoints so an interrupted scan can be
// resumed.
//
// A checkpoint is a small JSON file recording the scan's name and run id,
// how many steps completed and the state the scanning device was last seen
// in. Files are replaced atomically, so a crash while saving leaves the
// previous checkpoint intact.
package persistence
