package session

import (
	"sync"
)

// broadcaster fans snapshots out to subscribers. publish is only called
// from the controller goroutine; subscribe and cancel may come from anywhere.
type broadcaster struct {
	mutex  sync.Mutex
	nextID int
	subs   map[int]chan Snapshot
	buffer int
	closed bool
}

func newBroadcaster(buffer int) *broadcaster {
	if buffer < 1 {
		buffer = 1
	}
	return &broadcaster{
		subs:   make(map[int]chan Snapshot),
		buffer: buffer,
	}
}

// subscribe registers a channel primed with the current snapshot
func (b *broadcaster) subscribe(current Snapshot) (<-chan Snapshot, func()) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	ch := make(chan Snapshot, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	ch <- current

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mutex.Lock()
			defer b.mutex.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

// publish never blocks: a full subscriber loses its oldest pending snapshot
// so the latest one always gets through
func (b *broadcaster) publish(snap Snapshot) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	for _, ch := range b.subs {
		for {
			select {
			case ch <- snap:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

func (b *broadcaster) close() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
