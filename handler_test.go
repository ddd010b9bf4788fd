package redis

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, mock *mockConnection, cfg Config) *Client {
	t.Helper()
	submit, closedCh, reconnected, err := Connect(mock, cfg)
	require.NoError(t, err)
	return &Client{submit: submit, closedCh: closedCh, reconnected: reconnected}
}

func TestDoRoundTrip(t *testing.T) {
	mock := newMockConnection()
	client := newTestClient(t, mock, Config{})

	type result struct {
		reply RespBuf
		err   error
	}
	done := make(chan result, 1)
	go func() {
		reply, err := client.Do(context.Background(), NewCommand("GET").AddString("foo"))
		done <- result{reply, err}
	}()

	cmds := <-mock.writes
	require.Len(t, cmds, 1)
	assert.Equal(t, "GET", cmds[0].Name)

	mock.frames <- bulkFrame("bar")

	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, []byte("bar"), r.reply.Raw)
}

func TestDoServerError(t *testing.T) {
	mock := newMockConnection()
	client := newTestClient(t, mock, Config{})

	done := make(chan error, 1)
	go func() {
		_, err := client.Do(context.Background(), NewCommand("GET").AddString("foo"))
		done <- err
	}()

	<-mock.writes
	mock.frames <- RespBuf{Type: Error, Raw: []byte("WRONGTYPE bad")}

	err := <-done
	require.Error(t, err)
	assert.Equal(t, "WRONGTYPE", err.(ServerError).Prefix())
}

func TestDoBatchPreservesOrder(t *testing.T) {
	mock := newMockConnection()
	client := newTestClient(t, mock, Config{})

	cmds := []Command{NewCommand("GET").AddString("a"), NewCommand("GET").AddString("b")}
	done := make(chan []Reply, 1)
	go func() {
		replies, err := client.DoBatch(context.Background(), cmds)
		require.NoError(t, err)
		done <- replies
	}()

	sent := <-mock.writes
	require.Len(t, sent, 2)

	mock.frames <- bulkFrame("1")
	mock.frames <- bulkFrame("2")

	replies := <-done
	require.Len(t, replies, 2)
	assert.Equal(t, []byte("1"), replies[0].Frame.Raw)
	assert.Equal(t, []byte("2"), replies[1].Frame.Raw)
}

func TestSubscribeDeliversMessages(t *testing.T) {
	mock := newMockConnection()
	client := newTestClient(t, mock, Config{})

	sink, err := client.Subscribe(context.Background(), "news")
	require.NoError(t, err)

	sent := <-mock.writes
	require.Len(t, sent, 1)
	assert.Equal(t, "SUBSCRIBE", sent[0].Name)

	mock.frames <- subscribeConfirmFrame("subscribe", "news", 1)
	mock.frames <- pushMessageFrame("news", "hello")

	select {
	case push := <-sink:
		require.NotNil(t, push.Sub)
		assert.Equal(t, []byte("news"), push.Sub.Channel)
		assert.Equal(t, []byte("hello"), push.Sub.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pub/sub push")
	}
}

func TestPublishDecodesCount(t *testing.T) {
	mock := newMockConnection()
	client := newTestClient(t, mock, Config{})

	done := make(chan int64, 1)
	go func() {
		n, err := client.Publish(context.Background(), "news", []byte("hi"))
		require.NoError(t, err)
		done <- n
	}()

	sent := <-mock.writes
	assert.Equal(t, "PUBLISH", sent[0].Name)

	mock.frames <- intFrame(2)
	assert.Equal(t, int64(2), <-done)
}

func TestReconnectOnReadError(t *testing.T) {
	mock := newMockConnection()
	client := newTestClient(t, mock, Config{ReconnectInterval: time.Millisecond})

	mock.errs <- io.EOF

	select {
	case <-client.Reconnected():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reconnect notification")
	}

	done := make(chan RespBuf, 1)
	go func() {
		reply, err := client.Do(context.Background(), NewCommand("PING"))
		require.NoError(t, err)
		done <- reply
	}()

	sent := <-mock.writes
	assert.Equal(t, "PING", sent[0].Name)
	mock.frames <- okFrame()

	select {
	case reply := <-done:
		assert.Equal(t, []byte("OK"), reply.Raw)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for post-reconnect reply")
	}
}

func TestCloseDrainsAndStops(t *testing.T) {
	mock := newMockConnection()
	client := newTestClient(t, mock, Config{})

	require.NoError(t, client.Close())

	select {
	case <-client.Done():
	case <-time.After(time.Second):
		t.Fatal("handler goroutine never exited")
	}
}

func TestMonitorDeliversLogLines(t *testing.T) {
	mock := newMockConnection()
	client := newTestClient(t, mock, Config{})

	sink, err := client.Monitor(context.Background())
	require.NoError(t, err)

	sent := <-mock.writes
	assert.Equal(t, "MONITOR", sent[0].Name)

	mock.frames <- okFrame() // MONITOR's own acknowledgement
	mock.frames <- RespBuf{Type: SimpleString, Raw: []byte(`1339518083.107412 [0 127.0.0.1:58082] "PING"`)}

	select {
	case push := <-sink:
		assert.Equal(t, SimpleString, push.Monitor.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for monitor line")
	}
}

// TestUnsubscribeConfirmationResolvesQueue guards against a message
// desync: UNSUBSCRIBE's confirmation must pop the UNSUBSCRIBE message
// out of messagesToReceive before the next ordinary command's reply
// arrives, or that reply gets matched to the wrong caller.
func TestUnsubscribeConfirmationResolvesQueue(t *testing.T) {
	mock := newMockConnection()
	client := newTestClient(t, mock, Config{})

	_, err := client.Subscribe(context.Background(), "news")
	require.NoError(t, err)
	<-mock.writes
	mock.frames <- subscribeConfirmFrame("subscribe", "news", 1)

	require.NoError(t, client.Unsubscribe(context.Background(), "news"))
	<-mock.writes
	mock.frames <- subscribeConfirmFrame("unsubscribe", "news", 0)

	done := make(chan RespBuf, 1)
	go func() {
		reply, err := client.Do(context.Background(), NewCommand("GET").AddString("k"))
		require.NoError(t, err)
		done <- reply
	}()

	sent := <-mock.writes
	assert.Equal(t, "GET", sent[0].Name)
	mock.frames <- bulkFrame("v")

	select {
	case reply := <-done:
		assert.Equal(t, []byte("v"), reply.Raw)
	case <-time.After(time.Second):
		t.Fatal("GET reply never matched back to its caller: queue desynced")
	}
}

// TestClientReplyAccountingAcrossBatch exercises a batch that toggles
// CLIENT REPLY mid-stream: the owed-reply count must be computed
// per-command in send order, not once per message from whichever
// isReplyOn value happened to be in effect when the message was
// enqueued.
func TestClientReplyAccountingAcrossBatch(t *testing.T) {
	mock := newMockConnection()
	client := newTestClient(t, mock, Config{})

	cmds := []Command{
		NewCommand("CLIENT", []byte("REPLY"), []byte("OFF")),
		NewCommand("SET").AddString("a").AddString("1"),
		NewCommand("CLIENT", []byte("REPLY"), []byte("ON")),
		NewCommand("GET").AddString("b"),
	}
	done := make(chan []Reply, 1)
	go func() {
		replies, err := client.DoBatch(context.Background(), cmds)
		require.NoError(t, err)
		done <- replies
	}()

	sent := <-mock.writes
	require.Len(t, sent, 4)

	// The server only replies to CLIENT REPLY ON and GET b—OFF and the
	// suppressed SET produce nothing on the wire.
	mock.frames <- okFrame()
	mock.frames <- bulkFrame("b-value")

	var replies []Reply
	select {
	case replies = <-done:
	case <-time.After(time.Second):
		t.Fatal("batch never completed: owed-reply count desynced from the wire")
	}
	require.Len(t, replies, 2)
	assert.Equal(t, []byte("b-value"), replies[1].Frame.Raw)

	// A follow-up command must still land on the right reply channel.
	done2 := make(chan RespBuf, 1)
	go func() {
		reply, err := client.Do(context.Background(), NewCommand("GET").AddString("c"))
		require.NoError(t, err)
		done2 <- reply
	}()
	sent2 := <-mock.writes
	assert.Equal(t, "GET", sent2[0].Name)
	mock.frames <- bulkFrame("c-value")
	select {
	case reply := <-done2:
		assert.Equal(t, []byte("c-value"), reply.Raw)
	case <-time.After(time.Second):
		t.Fatal("post-batch GET never matched back: owed-reply count desynced")
	}
}

// TestRetryDoesNotDeliverRedirectError ensures a MOVED reply on a
// retry-eligible message is resubmitted silently: the original caller
// must never observe the redirect error.
func TestRetryDoesNotDeliverRedirectError(t *testing.T) {
	mock := newMockConnection()
	client := newTestClient(t, mock, Config{MaxCommandAttempts: 2})

	replyTo := make(chan Reply, 1)
	msg := Message{Commands: SingleCommand(NewCommand("GET").AddString("k"), replyTo), RetryOnError: true}
	require.NoError(t, client.enqueue(context.Background(), msg))

	sent := <-mock.writes
	assert.Equal(t, "GET", sent[0].Name)
	mock.frames <- RespBuf{Type: Error, Raw: []byte("MOVED 1 127.0.0.1:7000")}

	resent := <-mock.writes
	assert.Equal(t, "GET", resent[0].Name)
	mock.frames <- bulkFrame("ok-after-retry")

	select {
	case reply := <-replyTo:
		require.NoError(t, reply.Err)
		assert.Equal(t, []byte("ok-after-retry"), reply.Frame.Raw)
	case <-time.After(time.Second):
		t.Fatal("retried message never delivered its eventual reply")
	}
}
