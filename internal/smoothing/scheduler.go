package smoothing

import (
	"sync"
	"sync/atomic"
	"time"
)

// scheduler drives the tick callback from a single goroutine, so ticks never
// overlap. A tick that is already a full interval late when it is read is
// dropped instead of run back-to-back with the next one.
type scheduler struct {
	mu       sync.Mutex
	ticker   *time.Ticker
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}

	skipped atomic.Uint64
}

func (s *scheduler) start(interval time.Duration, tick func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticker != nil {
		return false
	}
	s.interval = interval
	s.ticker = time.NewTicker(interval)
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(s.ticker, s.stop, s.done, tick)
	return true
}

func (s *scheduler) run(t *time.Ticker, stop <-chan struct{}, done chan<- struct{}, tick func()) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case at := <-t.C:
			if time.Since(at) >= s.period() {
				s.skipped.Add(1)
				continue
			}
			tick()
		}
	}
}

// halt stops ticking and waits for an in-flight tick to return.
func (s *scheduler) halt() {
	s.mu.Lock()
	t, stop, done := s.ticker, s.stop, s.done
	s.ticker = nil
	s.mu.Unlock()
	if t == nil {
		return
	}
	t.Stop()
	close(stop)
	<-done
}

func (s *scheduler) reset(interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = interval
	if s.ticker != nil {
		s.ticker.Reset(interval)
	}
}

func (s *scheduler) period() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

func (s *scheduler) running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticker != nil
}
