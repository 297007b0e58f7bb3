package mem

import "sync"

// CoherencyKind classifies a bus message.
type CoherencyKind int

// Coherency message kinds. Invalidate and Flush for the same line
// must be applied in delivery order.
const (
	MsgInvalidate CoherencyKind = iota
	MsgFlush
	MsgWriteback
	MsgReservationClear
)

// String returns the message kind name.
func (k CoherencyKind) String() string {
	switch k {
	case MsgInvalidate:
		return "invalidate"
	case MsgFlush:
		return "flush"
	case MsgWriteback:
		return "writeback"
	case MsgReservationClear:
		return "reservation-clear"
	}
	return "unknown"
}

// CoherencyMessage is one bus transaction.
type CoherencyMessage struct {
	Kind CoherencyKind
	From int
	Addr uint64
	Size int
}

// CoherencyBus delivers messages to per-CPU inboxes. Cache state
// transitions are applied synchronously under the memory system's
// coherency lock; the inboxes exist so observers (and the CPUs'
// timing models) see the same stream in delivery order. Enqueueing
// never blocks the sender: a full inbox drops the oldest message
// first.
type CoherencyBus struct {
	mu      sync.Mutex
	inboxes map[int]chan CoherencyMessage
	depth   int

	sent    uint64
	dropped uint64
}

// NewCoherencyBus creates a bus with the given per-CPU inbox depth.
func NewCoherencyBus(depth int) *CoherencyBus {
	if depth <= 0 {
		depth = 64
	}
	return &CoherencyBus{
		inboxes: make(map[int]chan CoherencyMessage),
		depth:   depth,
	}
}

// Attach creates the inbox for a CPU and returns its receive side.
func (b *CoherencyBus) Attach(cpuID int) <-chan CoherencyMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan CoherencyMessage, b.depth)
	b.inboxes[cpuID] = ch
	return ch
}

// Detach removes and closes a CPU's inbox.
func (b *CoherencyBus) Detach(cpuID int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.inboxes[cpuID]; ok {
		close(ch)
		delete(b.inboxes, cpuID)
	}
}

// Send delivers one message to a single CPU.
func (b *CoherencyBus) Send(target int, msg CoherencyMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.inboxes[target]; ok {
		b.deliver(ch, msg)
	}
}

// Broadcast delivers the message to every attached CPU except the
// sender and any CPU listed in exclude.
func (b *CoherencyBus) Broadcast(msg CoherencyMessage, exclude ...int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	skip := map[int]bool{msg.From: true}
	for _, id := range exclude {
		skip[id] = true
	}
	for id, ch := range b.inboxes {
		if skip[id] {
			continue
		}
		b.deliver(ch, msg)
	}
}

func (b *CoherencyBus) deliver(ch chan CoherencyMessage, msg CoherencyMessage) {
	for {
		select {
		case ch <- msg:
			b.sent++
			return
		default:
		}
		// Inbox full: drop the oldest so ordering of what remains
		// is preserved.
		select {
		case <-ch:
			b.dropped++
		default:
		}
	}
}

// Delivered returns the total messages enqueued and dropped.
func (b *CoherencyBus) Delivered() (sent, dropped uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sent, b.dropped
}
