// Package connectivity reports whether the device can reach the network.
package connectivity

import "sync"

// Observer publishes connectivity transitions.
type Observer interface {
	// Online reports the current state.
	Online() bool
	// Subscribe returns a channel of transitions and a function that stops
	// the subscription. The channel receives true on reconnect and false
	// on disconnect.
	Subscribe() (<-chan bool, func())
}

// Signal is an in-process Observer driven by Set. Only transitions are
// broadcast; setting the current state again is a no-op.
type Signal struct {
	mu     sync.Mutex
	online bool
	subs   map[int]chan bool
	next   int
}

var _ Observer = (*Signal)(nil)

// NewSignal returns a Signal in the given initial state.
func NewSignal(online bool) *Signal {
	return &Signal{online: online, subs: make(map[int]chan bool)}
}

func (s *Signal) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Set records the state and notifies subscribers on a transition. A
// subscriber that has not consumed the previous transition gets the newer
// one in its place.
func (s *Signal) Set(online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.online == online {
		return
	}
	s.online = online
	for _, ch := range s.subs {
		select {
		case ch <- online:
		default:
			// Replace the stale value so the latest state wins.
			select {
			case <-ch:
			default:
			}
			ch <- online
		}
	}
}

func (s *Signal) Subscribe() (<-chan bool, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	ch := make(chan bool, 1)
	s.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}
