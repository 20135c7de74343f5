package event

// Context carries the chain coordinates of the event being processed.
// It is set once per event and threaded explicitly through every call
// that stamps a lifecycle transition or snapshot. Never wall-clock.
type Context struct {
	BlockNumber int64
	Timestamp   int64
	TxHash      string
	TxIndex     int64
	LogIndex    int64
}

// Before reports whether c is strictly earlier than other in
// (block, tx index, log index) order.
func (c Context) Before(other Context) bool {
	if c.BlockNumber != other.BlockNumber {
		return c.BlockNumber < other.BlockNumber
	}
	if c.TxIndex != other.TxIndex {
		return c.TxIndex < other.TxIndex
	}
	return c.LogIndex < other.LogIndex
}
