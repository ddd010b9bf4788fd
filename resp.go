// Package redis provides Redis service access: a single-connection
// network handler that multiplexes pipelined commands, pub/sub and
// monitor sub-protocols, and transparent reconnect/retry onto one
// long-lived TCP or Unix domain socket.
package redis

import (
	"bufio"
	"bytes"
	"fmt"
)

// RespType identifies the RESP2/RESP3 frame kind by its leading byte.
type RespType byte

// Frame type bytes as defined by the Redis serialization protocol.
const (
	SimpleString RespType = '+'
	Error        RespType = '-'
	Integer      RespType = ':'
	BulkString   RespType = '$'
	Array        RespType = '*'
	Null         RespType = '_'
	Boolean      RespType = '#'
	Double       RespType = ','
	BigNumber    RespType = '('
	BulkError    RespType = '!'
	VerbatimStr  RespType = '='
	Map          RespType = '%'
	Set          RespType = '~'
	Push         RespType = '>'
)

// RespBuf is one framed reply read off the wire. Aggregate types (Array,
// Map, Set, Push) hold their children in Elements; Map frames flatten
// key/value pairs into Elements in encounter order. Scalar types hold
// their payload in Raw, without the trailing CRLF.
type RespBuf struct {
	Type     RespType
	Raw      []byte
	Elements []RespBuf
	IsNull   bool
}

// pubSubNames lists the push-frame kinds that make up the pub/sub
// sub-protocol, lower-case as Redis emits them.
var pubSubNames = map[string]bool{
	"subscribe":    true,
	"unsubscribe":  true,
	"psubscribe":   true,
	"punsubscribe": true,
	"ssubscribe":   true,
	"sunsubscribe": true,
	"message":      true,
	"pmessage":     true,
	"smessage":     true,
}

// IsPushMessage reports whether the frame is a RESP3 out-of-band push
// (leading '>').
func (b RespBuf) IsPushMessage() bool {
	return b.Type == Push
}

// IsPubSubMessage reports whether the frame is one of the pub/sub
// sub-protocol shapes, whether received as a RESP3 push or—talking
// RESP2—as a plain array.
func (b RespBuf) IsPubSubMessage() bool {
	if b.Type != Push && b.Type != Array {
		return false
	}
	if len(b.Elements) == 0 || b.Elements[0].Type != BulkString {
		return false
	}
	return pubSubNames[string(bytes.ToLower(b.Elements[0].Raw))]
}

// IsMonitorMessage reports whether the frame matches the MONITOR output
// shape: a simple string starting with a Unix timestamp, followed after
// a space by a bracketed database/client part, e.g. `1339518083.107412 [0 127.0.0.1:58082] "PING"`.
func (b RespBuf) IsMonitorMessage() bool {
	if b.Type != SimpleString {
		return false
	}
	s := b.Raw
	dot := bytes.IndexByte(s, '.')
	space := bytes.IndexByte(s, ' ')
	if dot <= 0 || space <= dot {
		return false
	}
	for _, c := range s[:dot] {
		if c < '0' || c > '9' {
			return false
		}
	}
	rest := bytes.TrimLeft(s[space:], " ")
	return len(rest) > 0 && rest[0] == '['
}

// PubSubKind enumerates the decoded pub/sub message shapes.
type PubSubKind int

const (
	PubSubMessage PubSubKind = iota
	PubSubPMessage
	PubSubSMessage
	PubSubSubscribe
	PubSubUnsubscribe
	PubSubPSubscribe
	PubSubPUnsubscribe
	PubSubSSubscribe
	PubSubSUnsubscribe
)

// RefPubSubMessage is the decoded, typed view of a pub/sub frame.
type RefPubSubMessage struct {
	Kind    PubSubKind
	Channel []byte
	Pattern []byte
	Payload []byte
	Count   int64 // subscription count, present on (un)subscribe confirmations
}

// DecodePubSub decodes a frame already known to satisfy IsPubSubMessage
// into its typed pub/sub view.
func DecodePubSub(b RespBuf) (RefPubSubMessage, error) {
	if len(b.Elements) < 2 {
		return RefPubSubMessage{}, fmt.Errorf("%w; pub/sub frame with %d elements", errProtocol, len(b.Elements))
	}
	name := string(bytes.ToLower(b.Elements[0].Raw))

	switch name {
	case "message":
		if len(b.Elements) < 3 {
			return RefPubSubMessage{}, fmt.Errorf("%w; message frame too short", errProtocol)
		}
		return RefPubSubMessage{Kind: PubSubMessage, Channel: b.Elements[1].Raw, Payload: b.Elements[2].Raw}, nil

	case "smessage":
		if len(b.Elements) < 3 {
			return RefPubSubMessage{}, fmt.Errorf("%w; smessage frame too short", errProtocol)
		}
		return RefPubSubMessage{Kind: PubSubSMessage, Channel: b.Elements[1].Raw, Payload: b.Elements[2].Raw}, nil

	case "pmessage":
		if len(b.Elements) < 4 {
			return RefPubSubMessage{}, fmt.Errorf("%w; pmessage frame too short", errProtocol)
		}
		return RefPubSubMessage{Kind: PubSubPMessage, Pattern: b.Elements[1].Raw, Channel: b.Elements[2].Raw, Payload: b.Elements[3].Raw}, nil

	case "subscribe", "unsubscribe", "psubscribe", "punsubscribe", "ssubscribe", "sunsubscribe":
		var kind PubSubKind
		switch name {
		case "subscribe":
			kind = PubSubSubscribe
		case "unsubscribe":
			kind = PubSubUnsubscribe
		case "psubscribe":
			kind = PubSubPSubscribe
		case "punsubscribe":
			kind = PubSubPUnsubscribe
		case "ssubscribe":
			kind = PubSubSSubscribe
		case "sunsubscribe":
			kind = PubSubSUnsubscribe
		}
		msg := RefPubSubMessage{Kind: kind, Channel: b.Elements[1].Raw}
		if len(b.Elements) >= 3 && b.Elements[2].Type == Integer {
			msg.Count = ParseInt(b.Elements[2].Raw)
		}
		return msg, nil
	}

	return RefPubSubMessage{}, fmt.Errorf("%w; unrecognized pub/sub frame name %q", errProtocol, name)
}

// ReadRespBuf reads and frames the next reply off r.
//
// WARNING: all payload bytes are copied into freshly allocated slices
// so a RespBuf stays valid beyond the next read on r, matching the
// teacher's readNCRLF discipline of always allocating destination
// buffers for payload bytes.
func ReadRespBuf(r *bufio.Reader) (RespBuf, error) {
	line, err := readLF(r)
	if err != nil {
		return RespBuf{}, err
	}
	if len(line) < 1 {
		return RespBuf{}, fmt.Errorf("%w; empty frame line", errProtocol)
	}

	first := line[0]
	end := len(line) - 2
	if end < 1 || line[end] != '\r' {
		return RespBuf{}, fmt.Errorf("%w; missing CRLF on line %q", errProtocol, line)
	}
	payload := line[1:end]

	switch RespType(first) {
	case SimpleString, Error, Double, BigNumber:
		return RespBuf{Type: RespType(first), Raw: append([]byte(nil), payload...)}, nil

	case Integer:
		return RespBuf{Type: Integer, Raw: append([]byte(nil), payload...)}, nil

	case Boolean:
		return RespBuf{Type: Boolean, Raw: append([]byte(nil), payload...)}, nil

	case Null:
		return RespBuf{Type: Null, IsNull: true}, nil

	case BulkString, BulkError, VerbatimStr:
		size := ParseInt(payload)
		if size < 0 {
			return RespBuf{Type: RespType(first), IsNull: true}, nil
		}
		bulk, err := readNBytesCRLF(r, size)
		if err != nil {
			return RespBuf{}, err
		}
		return RespBuf{Type: RespType(first), Raw: bulk}, nil

	case Array, Push, Set:
		size := ParseInt(payload)
		if size < 0 {
			return RespBuf{Type: RespType(first), IsNull: true}, nil
		}
		elems := make([]RespBuf, size)
		for i := range elems {
			elems[i], err = ReadRespBuf(r)
			if err != nil {
				return RespBuf{}, err
			}
		}
		return RespBuf{Type: RespType(first), Elements: elems}, nil

	case Map:
		pairs := ParseInt(payload)
		if pairs < 0 {
			return RespBuf{Type: Map, IsNull: true}, nil
		}
		elems := make([]RespBuf, pairs*2)
		for i := range elems {
			elems[i], err = ReadRespBuf(r)
			if err != nil {
				return RespBuf{}, err
			}
		}
		return RespBuf{Type: Map, Elements: elems}, nil

	default:
		return RespBuf{}, fmt.Errorf("%w; unrecognized leading byte %q on line %q", errProtocol, first, line)
	}
}

// readLF reads one CRLF-terminated line, keeping the line valid only
// until the next read on r—grounded on the teacher's readCRLF.
func readLF(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadSlice('\n')
	if err != nil {
		if err == bufio.ErrBufferFull {
			err = fmt.Errorf("%w; line exceeds %d bytes: %.40q…", errProtocol, r.Size(), line)
		}
		return nil, err
	}
	return line, nil
}

// readNBytesCRLF reads exactly n payload bytes followed by a CRLF,
// grounded on the teacher's readNCRLF.
func readNBytesCRLF(r *bufio.Reader, n int64) ([]byte, error) {
	buf := make([]byte, n)
	if n != 0 {
		done, err := r.Read(buf)
		for done < len(buf) && err == nil {
			var more int
			more, err = r.Read(buf[done:])
			done += more
		}
		if err != nil {
			return nil, err
		}
	}
	if _, err := r.Discard(2); err != nil {
		return nil, err
	}
	return buf, nil
}
