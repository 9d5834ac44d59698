package envforge

import "sync"

////////////////////////////////////////////////////////////////////////////////
// Wait hub: wait for the final worker result by run_id
////////////////////////////////////////////////////////////////////////////////

type waiterHub struct {
	mu      sync.Mutex
	waiters map[string]chan WorkerResultMsg
}

func newWaiterHub() *waiterHub {
	return &waiterHub{
		mu:      sync.Mutex{},
		waiters: map[string]chan WorkerResultMsg{},
	}
}

func (h *waiterHub) register(runID string) <-chan WorkerResultMsg {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan WorkerResultMsg, 1)
	h.waiters[runID] = ch
	return ch
}

func (h *waiterHub) unregister(runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.waiters, runID)
}

func (h *waiterHub) deliver(runID string, msg WorkerResultMsg) {
	h.mu.Lock()
	ch, ok := h.waiters[runID]
	h.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- msg:
	default:
	}
}
