package core

import (
	"log"
	"sync"
	"time"
)

const SweepInterval = 3 * time.Second

// Sweeper periodically rewinds jobs stuck in offered/sent back to
// queued once they exceed their timeout. It is the only liveness
// guarantee in a protocol with no in-transaction heartbeat: a printer
// that offers-then-vanishes or fetches-then-vanishes is recovered by
// time alone.
//
// Grounded on the teacher's Archiver (internal/archive/archiver.go):
// same Start/Stop/ticker-loop shape, run at a much shorter period and
// against the in-memory JobStore instead of a SQLite table.
// OnRewind is called with every job a sweep tick rewound to queued.
// Sweeper takes no audit.Sink itself — internal/core stays unaware that
// audit events exist — so the caller in cmd/cloudprntd wires this to
// record them.
type OnRewind func([]RewoundJob)

type Sweeper struct {
	store        *JobStore
	offerTimeout time.Duration
	sentTimeout  time.Duration
	interval     time.Duration
	onRewind     OnRewind

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewSweeper(store *JobStore, offerTimeout, sentTimeout time.Duration, onRewind OnRewind) *Sweeper {
	if offerTimeout <= 0 {
		offerTimeout = 10 * time.Second
	}
	if sentTimeout <= 0 {
		sentTimeout = 20 * time.Second
	}
	if onRewind == nil {
		onRewind = func([]RewoundJob) {}
	}
	return &Sweeper{
		store:        store,
		offerTimeout: offerTimeout,
		sentTimeout:  sentTimeout,
		interval:     SweepInterval,
		onRewind:     onRewind,
		stopCh:       make(chan struct{}),
	}
}

func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.loop()
}

func (s *Sweeper) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			rewound, ok := s.store.TryLockSweep(time.Now(), s.offerTimeout, s.sentTimeout)
			if !ok {
				continue // store busy; catch up next tick rather than block the selector
			}
			if len(rewound) > 0 {
				log.Printf("[sweeper] rewound %d stuck job(s) to queued", len(rewound))
				s.onRewind(rewound)
			}
		}
	}
}
