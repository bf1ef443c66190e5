package workflow

import (
	"encoding/json"
	"fmt"
	"time"
)

// ExecutorType selects the workflow executor variant.
type ExecutorType string

const (
	// ExecutorReliable runs every action exactly once over a stream transport.
	ExecutorReliable ExecutorType = "reliable"

	// ExecutorDatagram retransmits whole flights over a datagram transport.
	ExecutorDatagram ExecutorType = "datagram"

	// ExecutorPacket uses the packet-oriented layer stack.
	ExecutorPacket ExecutorType = "packet"

	// ExecutorThreadedServer listens and runs one reliable workflow per peer.
	ExecutorThreadedServer ExecutorType = "threaded_server"
)

// Config is the read-mostly parameter bag shared by executors and the oracle
// engine. It is never mutated while a workflow runs; use Copy to derive
// per-task variants.
type Config struct {
	// HighestVersion is the protocol version offered by initiators.
	HighestVersion string `yaml:"highest_version" json:"highest_version"`

	// CipherSuites lists the offered suites in preference order.
	CipherSuites []string `yaml:"cipher_suites" json:"cipher_suites"`

	// DefaultTimeout is the socket timeout applied to every transport.
	DefaultTimeout time.Duration `yaml:"default_timeout" json:"default_timeout"`

	// Stop policies, checked before each action.
	StopActionsAfterFatal       bool `yaml:"stop_actions_after_fatal" json:"stop_actions_after_fatal"`
	StopActionsAfterWarning     bool `yaml:"stop_actions_after_warning" json:"stop_actions_after_warning"`
	StopActionsAfterIOException bool `yaml:"stop_actions_after_io_exception" json:"stop_actions_after_io_exception"`

	// StopTraceAfterUnexpected aborts the trace after the first action that
	// did not execute as planned.
	StopTraceAfterUnexpected bool `yaml:"stop_trace_after_unexpected" json:"stop_trace_after_unexpected"`

	// FinishWithCloseNotify sends a close signal when the trace completes.
	FinishWithCloseNotify bool `yaml:"finish_with_close_notify" json:"finish_with_close_notify"`

	// CloseConnections closes every transport after execution.
	CloseConnections bool `yaml:"close_connections" json:"close_connections"`

	// MaxRetransmissions bounds flight retransmissions of the datagram executor.
	MaxRetransmissions int `yaml:"max_retransmissions" json:"max_retransmissions"`

	// MaxPacketRetransmissions bounds retransmissions of the packet executor.
	MaxPacketRetransmissions int `yaml:"max_packet_retransmissions" json:"max_packet_retransmissions"`

	ExecutorType ExecutorType `yaml:"executor_type" json:"executor_type"`

	// Threaded server settings.
	ServerListenAddr      string        `yaml:"server_listen_addr" json:"server_listen_addr"`
	ServerMaxConnections  int           `yaml:"server_max_connections" json:"server_max_connections"`
	ServerShutdownTimeout time.Duration `yaml:"server_shutdown_timeout" json:"server_shutdown_timeout"`
}

// DefaultConfig returns the configuration used when nothing else is specified.
func DefaultConfig() Config {
	return Config{
		HighestVersion:              "TLS12",
		CipherSuites:                []string{"TLS_RSA_WITH_AES_128_CBC_SHA"},
		DefaultTimeout:              time.Second,
		StopActionsAfterFatal:       true,
		StopActionsAfterIOException: true,
		FinishWithCloseNotify:       false,
		CloseConnections:            true,
		MaxRetransmissions:          3,
		MaxPacketRetransmissions:    3,
		ExecutorType:                ExecutorReliable,
		ServerListenAddr:            ":4433",
		ServerMaxConnections:        16,
		ServerShutdownTimeout:       5 * time.Second,
	}
}

// Copy returns an independent deep copy of the configuration.
func (c Config) Copy() (Config, error) {
	return deepCopy(c)
}

// Validate reports missing or contradictory parameters.
func (c Config) Validate() error {
	switch c.ExecutorType {
	case ExecutorReliable, ExecutorDatagram, ExecutorPacket, ExecutorThreadedServer:
	case "":
		return &ExecutionError{Code: codeInvalidConfig, ActionIndex: -1, Message: "executor type is required"}
	default:
		return &ExecutionError{Code: codeInvalidConfig, ActionIndex: -1, Message: fmt.Sprintf("unknown executor type %q", c.ExecutorType)}
	}
	if c.DefaultTimeout < 0 {
		return &ExecutionError{Code: codeInvalidConfig, ActionIndex: -1, Message: "default timeout must be >= 0"}
	}
	if c.MaxRetransmissions < 0 || c.MaxPacketRetransmissions < 0 {
		return &ExecutionError{Code: codeInvalidConfig, ActionIndex: -1, Message: "retransmission limits must be >= 0"}
	}
	if c.ExecutorType == ExecutorThreadedServer {
		if c.ServerListenAddr == "" {
			return &ExecutionError{Code: codeInvalidConfig, ActionIndex: -1, Message: "server listen address is required"}
		}
		if c.ServerMaxConnections <= 0 {
			return &ExecutionError{Code: codeInvalidConfig, ActionIndex: -1, Message: "server max connections must be > 0"}
		}
	}
	return nil
}

// Datagram reports whether the configured executor runs over datagrams.
func (c Config) Datagram() bool {
	return c.ExecutorType == ExecutorDatagram || c.ExecutorType == ExecutorPacket
}

// deepCopy creates a deep copy of v using a JSON round trip. Unexported
// fields and function values are not copied.
func deepCopy[T any](v T) (T, error) {
	var zero T

	data, err := json.Marshal(v)
	if err != nil {
		return zero, fmt.Errorf("failed to marshal: %w", err)
	}

	var copied T
	if err := json.Unmarshal(data, &copied); err != nil {
		return zero, fmt.Errorf("failed to unmarshal: %w", err)
	}
	return copied, nil
}
