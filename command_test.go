package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeCommand(t *testing.T) {
	cmd := NewCommand("GET").AddString("foo")
	buf := encodeCommand(nil, cmd)
	assert.Equal(t, "*2\r\n$3\r\nGET\r\n$3\r\nfoo\r\n", string(buf))
}

func TestEncodeCommandNoArgs(t *testing.T) {
	cmd := NewCommand("PING")
	buf := encodeCommand(nil, cmd)
	assert.Equal(t, "*1\r\n$4\r\nPING\r\n", string(buf))
}

func TestIsProtocolChanging(t *testing.T) {
	assert.True(t, NewCommand("SUBSCRIBE").AddString("ch").IsProtocolChanging())
	assert.True(t, NewCommand("MONITOR").IsProtocolChanging())
	assert.True(t, NewCommand("CLIENT", []byte("REPLY"), []byte("OFF")).IsProtocolChanging())
	assert.False(t, NewCommand("GET").AddString("foo").IsProtocolChanging())
}

func TestClientReplyMode(t *testing.T) {
	cmd := NewCommand("CLIENT", []byte("reply"), []byte("skip"))
	assert.Equal(t, "SKIP", cmd.clientReplyMode())

	assert.Equal(t, "", NewCommand("GET").AddString("foo").clientReplyMode())
}

func TestSubscribeType(t *testing.T) {
	typ, unsub, ok := NewCommand("PSUBSCRIBE").subscribeType()
	assert.True(t, ok)
	assert.False(t, unsub)
	assert.Equal(t, subPattern, typ)

	typ, unsub, ok = NewCommand("UNSUBSCRIBE").subscribeType()
	assert.True(t, ok)
	assert.True(t, unsub)
	assert.Equal(t, subChannel, typ)

	_, _, ok = NewCommand("GET").subscribeType()
	assert.False(t, ok)
}

func TestAddInt(t *testing.T) {
	cmd := NewCommand("SELECT").AddInt(3)
	assert.Equal(t, [][]byte{[]byte("3")}, cmd.Args)
}
