package redis

import "go.uber.org/zap"

// applyProtocolEffects updates subscription bookkeeping and the
// MONITOR excursion eagerly at enqueue time, so a second message
// submitted before the first flushes still observes consistent
// handler state. It returns the set of subscriptionKey entries this
// command now expects a push confirmation for (nil for anything that
// isn't a SUBSCRIBE/UNSUBSCRIBE-family command); handleMessage
// attaches it to the queued messageToSend as its FIFO-of-one
// pending-ack set (spec.md §3/§4.E).
//
// CLIENT REPLY mode is deliberately NOT handled here—see
// handler.go's commandReplyCount doc comment.
func (h *handler) applyProtocolEffects(cmd Command, msg Message) map[string]bool {
	if typ, unsub, ok := cmd.subscribeType(); ok {
		if unsub {
			return h.registerUnsubscribe(cmd, typ)
		}
		return h.registerSubscribe(cmd, typ, msg)
	}

	switch cmd.Name {
	case "MONITOR":
		h.status = StatusEnteringMonitor
		h.monitorSink = msg.PushSender
	case "RESET":
		if h.status == StatusMonitor {
			h.status = StatusLeavingMonitor
		}
	}
	return nil
}

// registerSubscribe records one pending (channel|pattern|shard-channel)
// registration per argument, moves the status to Subscribing, and
// returns the keys this SUBSCRIBE command now owes a confirmation for.
func (h *handler) registerSubscribe(cmd Command, typ subscriptionType, msg Message) map[string]bool {
	ack := make(map[string]bool, len(cmd.Args))
	for _, arg := range cmd.Args {
		name := string(arg)
		sink := msg.PubSubSenders[name]
		key := subscriptionKey(typ, name)
		h.pendingSubscriptions[key] = subscriptionEntry{typ: typ, sink: sink}
		ack[key] = true
	}
	if h.status == StatusConnected {
		h.status = StatusSubscribing
	}
	return ack
}

// registerUnsubscribe resolves which subscriptions this command will
// remove and returns them as the keys it owes a confirmation for. A
// bare UNSUBSCRIBE/PUNSUBSCRIBE/SUNSUBSCRIBE (no arguments) targets
// every currently active or pending subscription of that type, resolved
// at enqueue time against the live maps; if that set is empty (nothing
// of that type is subscribed), a sentinel entry is added so the single
// null-channel confirmation Redis still sends for a bare unsubscribe
// has something to resolve against.
func (h *handler) registerUnsubscribe(cmd Command, typ subscriptionType) map[string]bool {
	ack := make(map[string]bool)
	if len(cmd.Args) == 0 {
		for key, entry := range h.subscriptions {
			if entry.typ == typ {
				ack[key] = true
			}
		}
		for key, entry := range h.pendingSubscriptions {
			if entry.typ == typ {
				ack[key] = true
			}
		}
		if len(ack) == 0 {
			ack[subscriptionKey(typ, "")] = true
		}
		return ack
	}
	for _, arg := range cmd.Args {
		ack[subscriptionKey(typ, string(arg))] = true
	}
	return ack
}

// tryMatchPubSubMessage routes a pub/sub frame to its channel/pattern
// sink, or resolves a (un)subscribe confirmation against the pending
// maps. Returns false if frame is not in fact a pub/sub frame (the
// caller already checked IsPubSubMessage, so this only happens on a
// malformed frame).
func (h *handler) tryMatchPubSubMessage(frame RespBuf) bool {
	msg, err := DecodePubSub(frame)
	if err != nil {
		h.logger.Warn("redis: malformed pub/sub frame", zap.Error(err))
		return false
	}

	switch msg.Kind {
	case PubSubMessage, PubSubSMessage, PubSubPMessage:
		h.deliverPubSubPayload(msg)
		return true

	case PubSubSubscribe, PubSubPSubscribe, PubSubSSubscribe:
		h.confirmSubscribe(msg, frame)
		return true

	case PubSubUnsubscribe, PubSubPUnsubscribe, PubSubSUnsubscribe:
		h.confirmUnsubscribe(msg, frame)
		return true
	}
	return false
}

func (h *handler) deliverPubSubPayload(msg RefPubSubMessage) {
	typ := subChannel
	name := string(msg.Channel)
	switch msg.Kind {
	case PubSubPMessage:
		typ = subPattern
		name = string(msg.Pattern)
	case PubSubSMessage:
		typ = subShardChannel
	}

	key := subscriptionKey(typ, name)
	entry, ok := h.subscriptions[key]
	if !ok || entry.sink == nil {
		h.logger.Warn("redis: pub/sub message for unknown subscription", zap.String("channel", name))
		return
	}
	trySendPush(entry.sink, PushMessage{Sub: &msg})
}

// confirmSubscribe promotes a pending subscription to active and
// resolves the originating SUBSCRIBE/PSUBSCRIBE/SSUBSCRIBE command's
// pending-ack set, delivering a synthetic OK through resolvePendingAck
// once that set empties (network_handler.rs:586-589/605-628). A
// confirmation resolvePendingAck can't match against any in-flight
// command falls back to ordinary delivery of the raw frame, so it
// still surfaces rather than vanishing silently.
func (h *handler) confirmSubscribe(msg RefPubSubMessage, frame RespBuf) {
	typ := kindToType(msg.Kind)
	key := subscriptionKey(typ, string(msg.Channel))
	if entry, ok := h.pendingSubscriptions[key]; ok {
		h.subscriptions[key] = entry
		delete(h.pendingSubscriptions, key)
	}
	h.settleSubscriptionStatus()
	if !h.resolvePendingAck(key) {
		h.receiveResult(frame)
	}
}

// confirmUnsubscribe retires a subscription and resolves the
// originating UNSUBSCRIBE-family command's pending-ack set the same
// way confirmSubscribe does. A bare unsubscribe's null-channel
// confirmation maps to the sentinel key registerUnsubscribe reserved
// for it (subscriptionKey(typ, "")), since string(nil) == "".
func (h *handler) confirmUnsubscribe(msg RefPubSubMessage, frame RespBuf) {
	typ := kindToType(msg.Kind)
	key := subscriptionKey(typ, string(msg.Channel))
	delete(h.subscriptions, key)
	delete(h.pendingSubscriptions, key)
	h.settleSubscriptionStatus()
	if !h.resolvePendingAck(key) {
		h.receiveResult(frame)
	}
}

// settleSubscriptionStatus applies the resolved Open Question: the
// handler leaves Subscribed (back to Connected) as soon as both the
// active and pending subscription sets empty out, not only on
// reconnect.
func (h *handler) settleSubscriptionStatus() {
	total := len(h.subscriptions) + len(h.pendingSubscriptions)
	switch {
	case total == 0 && (h.status == StatusSubscribing || h.status == StatusSubscribed):
		h.status = StatusConnected
	case len(h.pendingSubscriptions) == 0 && h.status == StatusSubscribing:
		h.status = StatusSubscribed
	case total > 0 && h.status == StatusConnected:
		h.status = StatusSubscribed
	}
}

func kindToType(k PubSubKind) subscriptionType {
	switch k {
	case PubSubPSubscribe, PubSubPUnsubscribe, PubSubPMessage:
		return subPattern
	case PubSubSSubscribe, PubSubSUnsubscribe, PubSubSMessage:
		return subShardChannel
	default:
		return subChannel
	}
}

func trySendPush(ch chan<- PushMessage, m PushMessage) {
	defer func() { recover() }()
	ch <- m
}
