package bot

import "sync"

// sequencer executes submitted jobs so that jobs sharing an identity run
// one at a time in submission order, while distinct identities proceed
// independently. Mutual exclusion alone is not enough for the chat flows:
// two messages from one sender must be consumed in arrival order.
type sequencer struct {
	mu     sync.Mutex
	queues map[int64]chan func()
	wg     sync.WaitGroup
}

func newSequencer() *sequencer {
	return &sequencer{
		queues: make(map[int64]chan func()),
	}
}

func (s *sequencer) Submit(identity int64, job func()) {
	s.mu.Lock()
	q, ok := s.queues[identity]
	if !ok {
		q = make(chan func(), 64)
		s.queues[identity] = q
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for j := range q {
				j()
			}
		}()
	}
	s.mu.Unlock()
	q <- job
}

// Close stops accepting jobs and waits for every queued job to finish.
func (s *sequencer) Close() {
	s.mu.Lock()
	for _, q := range s.queues {
		close(q)
	}
	s.queues = make(map[int64]chan func())
	s.mu.Unlock()
	s.wg.Wait()
}
