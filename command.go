package redis

import "strconv"

// Command is an opaque Redis request: a command name plus its ordered
// argument list. The core never inspects an argument's meaning—only a
// closed set of protocol-changing command Names (see IsProtocolChanging)
// affects handler state.
type Command struct {
	Name string
	Args [][]byte
}

// NewCommand builds a Command from name and a variadic byte-string
// argument list.
func NewCommand(name string, args ...[]byte) Command {
	return Command{Name: name, Args: args}
}

// AddString appends a string argument.
func (c Command) AddString(s string) Command {
	c.Args = append(c.Args, []byte(s))
	return c
}

// AddBytes appends a byte-string argument.
func (c Command) AddBytes(b []byte) Command {
	c.Args = append(c.Args, b)
	return c
}

// AddInt appends a decimal-formatted integer argument.
func (c Command) AddInt(v int64) Command {
	c.Args = append(c.Args, strconv.AppendInt(nil, v, 10))
	return c
}

// protocolChangingNames is the closed set of command names recognized by
// the handler for status transitions and subscription bookkeeping,
// spelled exactly as Redis expects them on the wire: upper-case.
var protocolChangingNames = map[string]bool{
	"SUBSCRIBE":    true,
	"PSUBSCRIBE":   true,
	"SSUBSCRIBE":   true,
	"UNSUBSCRIBE":  true,
	"PUNSUBSCRIBE": true,
	"SUNSUBSCRIBE": true,
	"MONITOR":      true,
	"RESET":        true,
}

// IsProtocolChanging reports whether Name belongs to the closed set of
// commands the handler treats specially.
func (c Command) IsProtocolChanging() bool {
	return protocolChangingNames[c.Name] || c.isClientReply()
}

// clientReplyMode returns the CLIENT REPLY sub-argument (ON/OFF/SKIP) in
// upper-case, or "" if this is not a CLIENT REPLY command.
func (c Command) clientReplyMode() string {
	if !c.isClientReply() {
		return ""
	}
	return string(bytesUpper(c.Args[1]))
}

func (c Command) isClientReply() bool {
	return c.Name == "CLIENT" && len(c.Args) >= 2 && string(bytesUpper(c.Args[0])) == "REPLY"
}

func bytesUpper(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return out
}

// subscribeType derives the subscription kind from a subscribe/unsubscribe
// command name. ok is false when Name isn't one of the six (un)subscribe
// verbs—a programming error for any caller populating PubSubSenders.
func (c Command) subscribeType() (t subscriptionType, unsub bool, ok bool) {
	switch c.Name {
	case "SUBSCRIBE":
		return subChannel, false, true
	case "PSUBSCRIBE":
		return subPattern, false, true
	case "SSUBSCRIBE":
		return subShardChannel, false, true
	case "UNSUBSCRIBE":
		return subChannel, true, true
	case "PUNSUBSCRIBE":
		return subPattern, true, true
	case "SUNSUBSCRIBE":
		return subShardChannel, true, true
	}
	return 0, false, false
}

// encodeCommand appends the RESP array-of-bulk-strings wire form of cmd
// to buf, grounded on the teacher's direct byte-append style in
// codec.go/resp.go (addBytes/decimal), generalized from a fixed command
// prefix to an arbitrary Command.
func encodeCommand(buf []byte, cmd Command) []byte {
	buf = append(buf, '*')
	buf = strconv.AppendUint(buf, uint64(len(cmd.Args)+1), 10)
	buf = append(buf, '\r', '\n', '$')
	buf = strconv.AppendUint(buf, uint64(len(cmd.Name)), 10)
	buf = append(buf, '\r', '\n')
	buf = append(buf, cmd.Name...)
	buf = append(buf, '\r', '\n')
	for _, arg := range cmd.Args {
		buf = append(buf, '$')
		buf = strconv.AppendUint(buf, uint64(len(arg)), 10)
		buf = append(buf, '\r', '\n')
		buf = append(buf, arg...)
		buf = append(buf, '\r', '\n')
	}
	return buf
}
