package redis

// Reply is the result delivered on a single command's reply sink: either
// a framed reply or the error that prevented one from arriving.
type Reply struct {
	Frame RespBuf
	Err   error
}

// PushMessage is delivered on a pub/sub or monitor sink. Sub is set for
// pub/sub deliveries; Monitor is set for MONITOR log lines and for RESP3
// push frames that pub/sub routing does not claim.
type PushMessage struct {
	Sub     *RefPubSubMessage
	Monitor RespBuf
}

// commandsKind enumerates the Commands payload variants of spec.md §3.
type commandsKind int

const (
	commandsNone commandsKind = iota
	commandsSingle
	commandsBatch
)

// Commands is the submission payload of a Message: either no-op, a
// single command with an optional reply sink (absent ⇒ fire-and-forget),
// or a batch of ordered commands sharing one reply-vector sink.
type Commands struct {
	kind    commandsKind
	single  Command
	replyTo chan<- Reply

	batch   []Command
	batchTo chan<- []Reply
}

// NoCommands is the placeholder, no-op Commands variant.
func NoCommands() Commands { return Commands{kind: commandsNone} }

// SingleCommand submits one command. replyTo may be nil for
// fire-and-forget submission.
func SingleCommand(cmd Command, replyTo chan<- Reply) Commands {
	return Commands{kind: commandsSingle, single: cmd, replyTo: replyTo}
}

// BatchCommands submits an ordered batch sharing one reply-vector sink.
func BatchCommands(cmds []Command, batchTo chan<- []Reply) Commands {
	return Commands{kind: commandsBatch, batch: cmds, batchTo: batchTo}
}

// list returns the ordered commands regardless of variant.
func (c Commands) list() []Command {
	switch c.kind {
	case commandsSingle:
		return []Command{c.single}
	case commandsBatch:
		return c.batch
	default:
		return nil
	}
}

// fireAndForget reports whether no caller awaits a reply.
func (c Commands) fireAndForget() bool {
	switch c.kind {
	case commandsSingle:
		return c.replyTo == nil
	case commandsBatch:
		return c.batchTo == nil
	default:
		return true
	}
}

// deliverErr fans the same error out to whichever sink this payload
// carries. Send is best-effort: a caller that stopped listening (a
// dropped receiver) is tolerated per spec.md §5 "Cancellation".
func (c Commands) deliverErr(err error) {
	switch c.kind {
	case commandsSingle:
		if c.replyTo != nil {
			trySend(c.replyTo, Reply{Err: err})
		}
	case commandsBatch:
		if c.batchTo != nil {
			trySendBatch(c.batchTo, nil, err)
		}
	}
}

func trySend(ch chan<- Reply, r Reply) {
	defer func() { recover() }() // sink may have been closed by a departed caller
	ch <- r
}

func trySendBatch(ch chan<- []Reply, replies []Reply, err error) {
	defer func() { recover() }()
	if err != nil {
		ch <- []Reply{{Err: err}}
		return
	}
	ch <- replies
}

// RetryKind enumerates the reasons the transport may request a message
// resubmission for.
type RetryKind int

const (
	RetryMoved RetryKind = iota
	RetryAsk
	RetrySentinel
)

// RetryReason is a per-command hint that resubmission is warranted, and
// possibly where to route it.
type RetryReason struct {
	Kind RetryKind
	Slot int64
	Addr string
}

// Message is the envelope the client-side facade hands to the network
// handler's submission channel.
type Message struct {
	Commands Commands

	// PubSubSenders maps a channel/pattern/shard-channel name to its push
	// sink. Present iff Commands contains SUBSCRIBE/PSUBSCRIBE/SSUBSCRIBE.
	PubSubSenders map[string]chan<- PushMessage

	// PushSender receives MONITOR output and any RESP3 push frame not
	// otherwise claimed by pub/sub routing. Present iff Commands contains
	// MONITOR.
	PushSender chan<- PushMessage

	// RetryOnError marks this message as safe to resubmit, whether after
	// a reconnect or on a server-signaled redirect.
	RetryOnError bool

	// RetryReasons accumulates across retry cycles.
	RetryReasons []RetryReason
}

// messageToSend is a Message queued for WriteBatch, not yet sent.
//
// pendingAckNames is non-nil iff this message's commands are a
// SUBSCRIBE/UNSUBSCRIBE-family command: the set of subscriptionKey
// entries the server still owes a push confirmation for. It rides
// along into the corresponding messageToReceive so confirmSubscribe/
// confirmUnsubscribe can resolve it against the exact originating
// command rather than a flat, message-unaware map.
type messageToSend struct {
	message         Message
	attempts        int
	pendingAckNames map[string]bool
}

// messageToReceive is a Message already written, with numCommands
// replies still owed by the server for it—after CLIENT REPLY OFF/SKIP
// suppression reduces the count below len(Commands.list()). collected
// accumulates replies as they arrive so a batch's sink receives them
// all at once, in command order. pendingAckNames mirrors
// messageToSend's field for a subscribe/unsubscribe message; it is
// drained by confirmSubscribe/confirmUnsubscribe rather than by
// ordinary numCommands counting.
type messageToReceive struct {
	message         Message
	numCommands     int
	attempts        int
	collected       []Reply
	pendingAckNames map[string]bool
}
