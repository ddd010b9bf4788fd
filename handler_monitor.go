package redis

// tryMatchMonitorMessage delivers a MONITOR log line to the active
// monitor sink. It acts in StatusMonitor and StatusLeavingMonitor (log
// lines keep arriving until RESET is answered); in
// StatusEnteringMonitor the MONITOR command's own "+OK" acknowledgement
// is still an ordinary command reply and flows through receiveResult.
func (h *handler) tryMatchMonitorMessage(frame RespBuf) bool {
	if (h.status != StatusMonitor && h.status != StatusLeavingMonitor) || !frame.IsMonitorMessage() {
		return false
	}
	if h.monitorSink != nil {
		trySendPush(h.monitorSink, PushMessage{Monitor: frame})
	}
	return true
}

// onMessageComplete runs once a message's replies have all arrived,
// advancing the MONITOR excursion's transient states. MONITOR's "+OK"
// reply moves EnteringMonitor → Monitor; RESET's "+RESET" reply moves
// LeavingMonitor back to Connected and clears subscription state, since
// RESET drops all subscriptions server-side too.
func (h *handler) onMessageComplete(msg Message) {
	for _, cmd := range msg.Commands.list() {
		switch {
		case cmd.Name == "MONITOR" && h.status == StatusEnteringMonitor:
			h.status = StatusMonitor
		case cmd.Name == "RESET":
			h.status = StatusConnected
			h.subscriptions = make(map[string]subscriptionEntry)
			h.pendingSubscriptions = make(map[string]subscriptionEntry)
			h.monitorSink = nil
			h.isReplyOn = true
		}
	}
}
