package webhook

import (
	"sync"

	"github.com/nats-io/nats.go"
)

// SubjectDispatch is the bus subject carrying delivery ids awaiting dispatch.
const SubjectDispatch = "webhooks.dispatch"

// Bus decouples the dispatcher from the broker so tests run without one.
type Bus interface {
	Publish(subject string, data []byte) error
	Connected() bool
}

// NATSBus publishes on a NATS connection.
type NATSBus struct {
	conn *nats.Conn
}

// NewNATSBus wraps a NATS connection as a Bus.
func NewNATSBus(conn *nats.Conn) *NATSBus {
	return &NATSBus{conn: conn}
}

// Publish implements Bus.
func (b *NATSBus) Publish(subject string, data []byte) error {
	return b.conn.Publish(subject, data)
}

// Connected reports whether the underlying connection is usable.
func (b *NATSBus) Connected() bool {
	return b.conn != nil && b.conn.IsConnected()
}

// MemoryBus records published messages for tests.
type MemoryBus struct {
	mu       sync.Mutex
	messages map[string][]string
}

// NewMemoryBus constructs an empty in-memory bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{messages: make(map[string][]string)}
}

// Publish implements Bus.
func (b *MemoryBus) Publish(subject string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages[subject] = append(b.messages[subject], string(data))
	return nil
}

// Connected implements Bus. The in-memory bus is always reachable.
func (b *MemoryBus) Connected() bool { return true }

// Published returns the messages recorded for a subject.
func (b *MemoryBus) Published(subject string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.messages[subject]...)
}
