package sqlite

import (
	"sync"

	"github.com/mesh-intelligence/journal/internal/logging"
	"github.com/mesh-intelligence/journal/pkg/types"
)

// subscriberBuffer is the channel capacity of each subscription. A
// subscriber that falls further behind loses notifications.
const subscriberBuffer = 64

// notifier fans committed changes out to per-table subscribers.
type notifier struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]chan types.Change
	log    *logging.Logger
}

func newNotifier(log *logging.Logger) *notifier {
	return &notifier{
		subs: make(map[string]map[int]chan types.Change),
		log:  log,
	}
}

func (n *notifier) subscribe(table string) (<-chan types.Change, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	ch := make(chan types.Change, subscriberBuffer)
	if n.subs[table] == nil {
		n.subs[table] = make(map[int]chan types.Change)
	}
	n.subs[table][id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			if c, ok := n.subs[table][id]; ok {
				delete(n.subs[table], id)
				close(c)
			}
		})
	}
	return ch, cancel
}

// publish never blocks the writer.
func (n *notifier) publish(changes []types.Change) {
	if len(changes) == 0 {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, c := range changes {
		for _, ch := range n.subs[c.Table] {
			select {
			case ch <- c:
			default:
				n.log.Warn("dropped change notification", "table", c.Table, "op", c.Op, "id", c.ID)
			}
		}
	}
}

func (n *notifier) closeAll() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for table, byID := range n.subs {
		for id, ch := range byID {
			close(ch)
			delete(byID, id)
		}
		delete(n.subs, table)
	}
}
