package redis

import (
	"errors"
	"sync/atomic"
)

var (
	errConnRefused = errors.New("mock: connection refused")
	errConnClosed  = errors.New("mock: connection closed")
)

// mockConnection is a scripted, in-process Connection double: tests
// push frames and errors through channels instead of a live socket,
// grounded on the teacher's net.Pipe connection-replacement tests
// (TestReadError/TestWriteError in client_test.go), generalized from
// "swap the live socket" to "implement Connection directly."
type mockConnection struct {
	frames chan RespBuf
	errs   chan error
	writes chan []Command
	closeSignal chan struct{}

	reconnects    int32
	failNextDials int32
	closed        int32
	tag           string
}

func newMockConnection() *mockConnection {
	return &mockConnection{
		frames:      make(chan RespBuf, 64),
		errs:        make(chan error, 8),
		writes:      make(chan []Command, 64),
		closeSignal: make(chan struct{}),
		tag:         "mock",
	}
}

func (m *mockConnection) Read() (RespBuf, error) {
	select {
	case f := <-m.frames:
		return f, nil
	case err := <-m.errs:
		return RespBuf{}, err
	case <-m.closeSignal:
		return RespBuf{}, errConnClosed
	}
}

func (m *mockConnection) WriteBatch(cmds []Command) error {
	m.writes <- cmds
	return nil
}

func (m *mockConnection) Reconnect(reason *RetryReason) error {
	if atomic.LoadInt32(&m.failNextDials) > 0 {
		atomic.AddInt32(&m.failNextDials, -1)
		return errConnRefused
	}
	atomic.AddInt32(&m.reconnects, 1)
	return nil
}

func (m *mockConnection) Close() error {
	if atomic.CompareAndSwapInt32(&m.closed, 0, 1) {
		close(m.closeSignal)
	}
	return nil
}

func (m *mockConnection) Tag() string { return m.tag }

// okFrame builds a minimal "+OK\r\n" style simple-string reply.
func okFrame() RespBuf { return RespBuf{Type: SimpleString, Raw: []byte("OK")} }

func intFrame(v int64) RespBuf {
	return RespBuf{Type: Integer, Raw: []byte(itoa(v))}
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func bulkFrame(s string) RespBuf { return RespBuf{Type: BulkString, Raw: []byte(s)} }

func subscribeConfirmFrame(verb, channel string, count int64) RespBuf {
	return RespBuf{
		Type: Push,
		Elements: []RespBuf{
			bulkFrame(verb),
			bulkFrame(channel),
			intFrame(count),
		},
	}
}

func pushMessageFrame(channel, payload string) RespBuf {
	return RespBuf{
		Type: Push,
		Elements: []RespBuf{
			bulkFrame("message"),
			bulkFrame(channel),
			bulkFrame(payload),
		},
	}
}
