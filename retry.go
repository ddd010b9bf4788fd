package redis

import "bytes"

// ParseRetryReason inspects a server error line (the Raw payload of a
// RespBuf with Type == Error) for the MOVED/ASK redirect convention and
// returns the retry hint to apply on resubmission. ok is false for any
// other error line—the caller should surface it as a ServerError as-is.
func ParseRetryReason(errLine []byte) (RetryReason, bool) {
	word, rest, ok := cutSpace(errLine)
	if !ok {
		return RetryReason{}, false
	}

	var kind RetryKind
	switch string(word) {
	case "MOVED":
		kind = RetryMoved
	case "ASK":
		kind = RetryAsk
	default:
		return RetryReason{}, false
	}

	slotWord, addr, ok := cutSpace(rest)
	if !ok {
		return RetryReason{}, false
	}
	slot := ParseInt(slotWord)

	return RetryReason{Kind: kind, Slot: slot, Addr: string(addr)}, true
}

// SentinelRetryReason builds the retry hint for a sentinel-observed
// failover, grounded on the SENTINEL MASTER address-resolution pattern:
// a new master address replaces the stale connection target.
func SentinelRetryReason(newMasterAddr string) RetryReason {
	return RetryReason{Kind: RetrySentinel, Addr: newMasterAddr}
}

// cutSpace splits s on its first space, trimming none beyond that single
// delimiter—MOVED/ASK lines are a fixed three-token grammar.
func cutSpace(s []byte) (before, after []byte, ok bool) {
	i := bytes.IndexByte(s, ' ')
	if i < 0 {
		return nil, nil, false
	}
	return s[:i], s[i+1:], true
}
