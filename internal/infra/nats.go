package infra

import (
	"fmt"

	"github.com/nats-io/nats.go"
)

// NewNATSConn connects to the NATS server used as the outbound dispatch bus.
func NewNATSConn(url, name string) (*nats.Conn, error) {
	if url == "" {
		return nil, fmt.Errorf("nats url is required")
	}

	nc, err := nats.Connect(url, nats.Name(name))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	return nc, nil
}
