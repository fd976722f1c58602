package app

import (
	"sync"

	"github.com/convento/voicemesh/internal/domain"
	"github.com/pion/webrtc/v4"
)

// CandidateQueue buffers remote ICE candidates that arrive before the
// corresponding session's remote description is set. Candidates drain in
// FIFO arrival order; the transport silently ignores out-of-order
// candidates, so ordering here is a correctness requirement.
type CandidateQueue struct {
	mu      sync.Mutex
	pending map[domain.UserID][]webrtc.ICECandidateInit
}

func NewCandidateQueue() *CandidateQueue {
	return &CandidateQueue{pending: make(map[domain.UserID][]webrtc.ICECandidateInit)}
}

func (q *CandidateQueue) Enqueue(remote domain.UserID, cand webrtc.ICECandidateInit) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending[remote] = append(q.pending[remote], cand)
}

// Drain returns and clears all buffered candidates for remote, oldest first.
func (q *CandidateQueue) Drain(remote domain.UserID) []webrtc.ICECandidateInit {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending[remote]
	delete(q.pending, remote)
	return out
}

// Purge discards everything buffered for remote without applying it.
func (q *CandidateQueue) Purge(remote domain.UserID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending, remote)
}

func (q *CandidateQueue) Len(remote domain.UserID) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending[remote])
}
