package redis

import (
	"context"
)

// Client is the caller-facing facade over one network handler: Do
// and friends enqueue Commands onto the handler's submission channel
// and block for their reply, while the handler goroutine owns the
// actual connection per spec.md §5.
//
// A Client is safe for concurrent use: every exported method other than
// Close only ever sends on the handler's submission channel or receives
// on a per-call reply channel it allocates itself. A submission made
// after or during Close reports ErrClosed.
type Client struct {
	submit      chan<- Message
	closedCh    <-chan struct{}
	reconnected *broadcaster
}

// NewClient dials cfg's endpoints (directly, or through Sentinel
// master resolution) and starts the network handler.
func NewClient(cfg Config) (*Client, error) {
	conn := NewTCPConnection(cfg)
	submit, closedCh, reconnected, err := Connect(conn, cfg)
	if err != nil {
		return nil, err
	}
	return &Client{submit: submit, closedCh: closedCh, reconnected: reconnected}, nil
}

// Close stops accepting new submissions and waits for the handler
// goroutine to exit. Commands still queued for sending fail with
// ErrClosed; commands still awaiting a reply fail with ErrConnLost.
func (c *Client) Close() error {
	close1(c.submit)
	<-c.closedCh
	return nil
}

// close1 closes a send-only Message channel; extracted so Close can be
// called more than once without panicking on a nil receiver check.
func close1(ch chan<- Message) {
	defer func() { recover() }()
	close(ch)
}

// Done reports the channel that closes once the handler goroutine has
// fully exited, whether due to Close or an unrecoverable error.
func (c *Client) Done() <-chan struct{} { return c.closedCh }

// Reconnected returns a channel that closes on the handler's next
// successful (re)connect—useful for tests and for callers that want to
// re-issue state lost by a non-AutoResubscribe/AutoRemonitor handler.
func (c *Client) Reconnected() <-chan struct{} { return c.reconnected.Wait() }

// Do submits one command and blocks for its reply.
func (c *Client) Do(ctx context.Context, cmd Command) (RespBuf, error) {
	replyTo := make(chan Reply, 1)
	msg := Message{Commands: SingleCommand(cmd, replyTo)}
	if err := c.enqueue(ctx, msg); err != nil {
		return RespBuf{}, err
	}
	select {
	case reply := <-replyTo:
		return reply.Frame, reply.Err
	case <-ctx.Done():
		return RespBuf{}, ctx.Err()
	case <-c.closedCh:
		return RespBuf{}, ErrClosed
	}
}

// DoBatch pipelines cmds as one ordered batch and blocks for every
// reply, in submission order.
func (c *Client) DoBatch(ctx context.Context, cmds []Command) ([]Reply, error) {
	batchTo := make(chan []Reply, 1)
	msg := Message{Commands: BatchCommands(cmds, batchTo)}
	if err := c.enqueue(ctx, msg); err != nil {
		return nil, err
	}
	select {
	case replies := <-batchTo:
		return replies, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closedCh:
		return nil, ErrClosed
	}
}

// Send submits cmd without waiting for a reply ("fire and forget").
func (c *Client) Send(ctx context.Context, cmd Command) error {
	return c.enqueue(ctx, Message{Commands: SingleCommand(cmd, nil)})
}

// Subscribe issues SUBSCRIBE for the given channels and returns the
// sink their messages will arrive on. Subscribe confirmations, including
// those of a resubscribe after reconnect, are not delivered on it.
func (c *Client) Subscribe(ctx context.Context, channels ...string) (<-chan PushMessage, error) {
	return c.subscribeAs("SUBSCRIBE", channels)
}

// PSubscribe is Subscribe for glob patterns.
func (c *Client) PSubscribe(ctx context.Context, patterns ...string) (<-chan PushMessage, error) {
	return c.subscribeAs("PSUBSCRIBE", patterns)
}

// SSubscribe is Subscribe for cluster shard channels.
func (c *Client) SSubscribe(ctx context.Context, channels ...string) (<-chan PushMessage, error) {
	return c.subscribeAs("SSUBSCRIBE", channels)
}

func (c *Client) subscribeAs(verb string, names []string) (<-chan PushMessage, error) {
	sink := make(chan PushMessage, 32)
	cmd := NewCommand(verb)
	senders := make(map[string]chan<- PushMessage, len(names))
	for _, name := range names {
		cmd = cmd.AddString(name)
		senders[name] = sink
	}
	msg := Message{Commands: SingleCommand(cmd, nil), PubSubSenders: senders, RetryOnError: true}
	if err := c.enqueue(context.Background(), msg); err != nil {
		return nil, err
	}
	return sink, nil
}

// Unsubscribe issues UNSUBSCRIBE for the given channels, or all active
// channel subscriptions when names is empty.
func (c *Client) Unsubscribe(ctx context.Context, names ...string) error {
	return c.unsubscribeAs(ctx, "UNSUBSCRIBE", names)
}

// PUnsubscribe is Unsubscribe for patterns.
func (c *Client) PUnsubscribe(ctx context.Context, patterns ...string) error {
	return c.unsubscribeAs(ctx, "PUNSUBSCRIBE", patterns)
}

// SUnsubscribe is Unsubscribe for shard channels.
func (c *Client) SUnsubscribe(ctx context.Context, names ...string) error {
	return c.unsubscribeAs(ctx, "SUNSUBSCRIBE", names)
}

func (c *Client) unsubscribeAs(ctx context.Context, verb string, names []string) error {
	cmd := NewCommand(verb)
	for _, name := range names {
		cmd = cmd.AddString(name)
	}
	return c.enqueue(ctx, Message{Commands: SingleCommand(cmd, nil)})
}

// Publish issues PUBLISH and returns the number of clients that
// received the message.
func (c *Client) Publish(ctx context.Context, channel string, message []byte) (int64, error) {
	reply, err := c.Do(ctx, NewCommand("PUBLISH").AddString(channel).AddBytes(message))
	if err != nil {
		return 0, err
	}
	if reply.Type == Error {
		return 0, ServerError(reply.Raw)
	}
	return ParseInt(reply.Raw), nil
}

// Monitor issues MONITOR and returns the sink every subsequent command
// logged by the server will arrive on.
func (c *Client) Monitor(ctx context.Context) (<-chan PushMessage, error) {
	sink := make(chan PushMessage, 128)
	msg := Message{Commands: SingleCommand(NewCommand("MONITOR"), nil), PushSender: sink}
	if err := c.enqueue(ctx, msg); err != nil {
		return nil, err
	}
	return sink, nil
}

func (c *Client) enqueue(ctx context.Context, msg Message) (err error) {
	// Once Close has run the submission channel is closed, and a send on
	// it panics.
	defer func() {
		if recover() != nil {
			err = ErrClosed
		}
	}()
	select {
	case c.submit <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closedCh:
		return ErrClosed
	}
}
