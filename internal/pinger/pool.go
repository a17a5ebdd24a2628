package pinger

import "sync"

// Pool bounds the number of concurrently running keepalive sessions
// with a buffered-channel token semaphore, the pattern
// pkg/p2pnet/peermanager.go uses for bounding concurrent reconnect
// dials. Unlike that one-shot dial pattern, sessions here run for
// their full (potentially hours-long) lifetime, so Pool additionally
// tracks a WaitGroup for graceful shutdown.
type Pool struct {
	sem chan struct{}
	wg  sync.WaitGroup
}

// NewPool constructs a pool with the given concurrency limit.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// TrySpawn attempts to acquire a slot and run fn in a new goroutine. It
// returns false without blocking if every slot is currently busy.
func (p *Pool) TrySpawn(fn func()) bool {
	select {
	case p.sem <- struct{}{}:
	default:
		return false
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.sem }()
		fn()
	}()
	return true
}

// FreeCount reports how many slots are currently unused.
func (p *Pool) FreeCount() int {
	return cap(p.sem) - len(p.sem)
}

// BusyCount reports how many slots are currently in use.
func (p *Pool) BusyCount() int {
	return len(p.sem)
}

// Wait blocks until every spawned fn has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
