package workflow

import (
	"time"

	"github.com/dshills/handshake-go/workflow/transport"
)

// Role is the local endpoint role of a connection.
type Role string

const (
	// RoleInitiator dials the peer (a client).
	RoleInitiator Role = "initiator"

	// RoleResponder waits for the peer (a server).
	RoleResponder Role = "responder"
)

// Connection identifies one endpoint of a workflow.
type Connection struct {
	Alias string `yaml:"alias" json:"alias"`
	Role  Role   `yaml:"role" json:"role"`
	Addr  string `yaml:"addr" json:"addr"`

	// Timeout overrides Config.DefaultTimeout when positive.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// NewConnection returns a connection with the given alias, role and address.
func NewConnection(alias string, role Role, addr string) Connection {
	return Connection{Alias: alias, Role: role, Addr: addr}
}

// TransportFactory opens the transport handle for one connection.
type TransportFactory func(conn Connection, cfg Config) (transport.Handler, error)

// DefaultTransportFactory picks TCP or UDP from the executor type and dials
// or listens according to the connection role.
func DefaultTransportFactory(conn Connection, cfg Config) (transport.Handler, error) {
	timeout := cfg.DefaultTimeout
	if conn.Timeout > 0 {
		timeout = conn.Timeout
	}
	switch {
	case cfg.Datagram() && conn.Role == RoleResponder:
		return transport.NewUDPResponder(conn.Addr, timeout), nil
	case cfg.Datagram():
		return transport.NewUDPClient(conn.Addr, timeout), nil
	case conn.Role == RoleResponder:
		return transport.NewTCPResponder(conn.Addr, timeout), nil
	default:
		return transport.NewTCPClient(conn.Addr, timeout), nil
	}
}
