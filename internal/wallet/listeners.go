package wallet

import "sync"

// Listeners is a registry providers embed to implement OnChange.
type Listeners struct {
	mu     sync.Mutex
	nextID int
	set    map[int]Listener
}

// OnChange registers l and returns its unregister func.
func (ls *Listeners) OnChange(l Listener) func() {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.set == nil {
		ls.set = map[int]Listener{}
	}
	id := ls.nextID
	ls.nextID++
	ls.set[id] = l
	return func() {
		ls.mu.Lock()
		defer ls.mu.Unlock()
		delete(ls.set, id)
	}
}

// Emit delivers n to every registered listener on the caller's goroutine.
func (ls *Listeners) Emit(n Notification) {
	ls.mu.Lock()
	targets := make([]Listener, 0, len(ls.set))
	for _, l := range ls.set {
		targets = append(targets, l)
	}
	ls.mu.Unlock()
	for _, l := range targets {
		l(n)
	}
}

// Len returns the number of registered listeners.
func (ls *Listeners) Len() int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.set)
}
