package sync_

import "sync"

// Flag is inspired by Python's `threading.Event`: an asynchronous boolean
// that goroutines can wait on. The zero value is an unset Flag.
type Flag struct {
	mu    sync.RWMutex
	ch    chan struct{}
	value bool
}

// IsSet returns the current state of the Flag.
func (f *Flag) IsSet() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.value
}

// Set ensures the Flag is true (idempotent), notifying any waiters. Returns
// true if the state was changed.
func (f *Flag) Set() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.value {
		return false
	}
	f.value = true
	close(f.getChannel(true))
	return true
}

// Clear ensures the Flag is false (idempotent). Returns true if the state was
// changed.
func (f *Flag) Clear() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.value {
		return false
	}
	f.value = false
	f.ch = nil // Next getChannel() will create a new channel
	return true
}

// Wait returns a channel that will close when the Flag is true (which may be
// immediately).
func (f *Flag) Wait() <-chan struct{} {
	return f.getChannel(false)
}

func (f *Flag) getChannel(alreadyLocked bool) chan struct{} {
	if !alreadyLocked {
		f.mu.Lock()
		defer f.mu.Unlock()
	}
	if f.ch == nil {
		f.ch = make(chan struct{})
	}
	return f.ch
}
