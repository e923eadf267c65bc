package sync

import "sync/atomic"

// Fuse is a write-once boolean gate. Its zero value is unset; the first call
// to Set flips it and reports success, every later call reports failure.
// Fuses gate one-shot initialization actions such as AP bring-up completion.
type Fuse struct {
	state uint32
}

// Set attempts to blow the fuse. It returns true for the caller that
// transitioned the fuse from unset to set.
func (f *Fuse) Set() bool {
	return atomic.CompareAndSwapUint32(&f.state, 0, 1)
}

// IsSet returns true if the fuse has been blown.
func (f *Fuse) IsSet() bool {
	return atomic.LoadUint32(&f.state) == 1
}
