package oracle

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/handshake-go/parallel"
	"github.com/dshills/handshake-go/workflow"
	"github.com/dshills/handshake-go/workflow/transport"
	"github.com/dshills/handshake-go/workflow/workflowtest"
)

// closingTarget listens on loopback. It reads one record per connection,
// closes without answering when the record contains "bad" and answers a
// handshake record otherwise.
func closingTarget(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
				header := make([]byte, 5)
				if _, err := io.ReadFull(conn, header); err != nil {
					return
				}
				body := make([]byte, binary.BigEndian.Uint16(header[3:5]))
				if _, err := io.ReadFull(conn, body); err != nil {
					return
				}
				if bytes.Contains(body, []byte("bad")) {
					return
				}
				_, _ = conn.Write(workflowtest.Record(22, []byte("server hello")))
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func TestEngine_PeerCloseOverTCP(t *testing.T) {
	addr := closingTarget(t)

	cfg := workflow.DefaultConfig()
	cfg.DefaultTimeout = time.Second

	exec, err := parallel.New(4, 1, parallel.WithBackoff(0, 0))
	require.NoError(t, err)

	gen := &StaticGenerator{Vectors: vectors("good-1", "good-2", "bad-pad", "good-3")}
	builder := PayloadTraceBuilder{Template: helloTemplate(t, addr), Offset: len(helloPrefix)}
	engine, err := NewEngine(cfg, gen, builder, exec)
	require.NoError(t, err)

	report, err := engine.ExecuteAttack(context.Background())
	require.NoError(t, err)

	assert.Empty(t, report.ErroneousScans, "a closed connection is a response, not an error")
	require.Len(t, report.Responses, 4)
	assert.Equal(t, VerdictVulnerable, report.Verdict)
	assert.Equal(t, EqualitySocketState, report.Equality)
	assert.Contains(t, report.Differing, "bad-pad")

	for _, r := range report.Responses {
		if r.Vector.Name() == "bad-pad" {
			assert.Equal(t, transport.SocketClosed, r.Fingerprint.SocketState)
			assert.Empty(t, r.Fingerprint.MessageKinds)
		} else {
			assert.Equal(t, []string{workflow.KindHandshake}, r.Fingerprint.MessageKinds)
		}
	}
}
