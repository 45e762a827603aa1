package services

import (
	"sync"
	"time"
)

// intervalLoop runs fn every interval until stopped. Stop never blocks, so it
// is safe to call while holding the manager lock that fn itself takes.
type intervalLoop struct {
	interval time.Duration
	stop     chan struct{}
	once     sync.Once
}

func startLoop(interval time.Duration, fn func()) *intervalLoop {
	l := &intervalLoop{
		interval: interval,
		stop:     make(chan struct{}),
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-l.stop:
				return
			case <-t.C:
				select {
				case <-l.stop:
					return
				default:
				}
				fn()
			}
		}
	}()
	return l
}

func (l *intervalLoop) Stop() {
	if l == nil {
		return
	}
	l.once.Do(func() { close(l.stop) })
}
