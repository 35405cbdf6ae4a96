package zotero

// requestQueue holds messages waiting to be dispatched. It is guarded by
// the owning Client's mutex.
//
// At most one of tick and deferred drives the next flush: tick is the
// "next turn" flush armed by Request, deferred is the timer armed while the
// client is limited.
type requestQueue struct {
	pending  []*Message
	tick     bool
	deferred Timer
}

func (q *requestQueue) push(m *Message) { q.pending = append(q.pending, m) }

func (q *requestQueue) len() int { return len(q.pending) }

// drain removes and returns every pending message in FIFO order.
func (q *requestQueue) drain() []*Message {
	batch := q.pending
	q.pending = nil
	return batch
}

// cancelDeferred stops the deferred flush timer, if any.
func (q *requestQueue) cancelDeferred() {
	if q.deferred != nil {
		q.deferred.Stop()
		q.deferred = nil
	}
}
