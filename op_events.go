package envforge

import (
	"sync"
	"time"
)

////////////////////////////////////////////////////////////////////////////////
// Run event hub: in-process progress stream for a provisioning run
////////////////////////////////////////////////////////////////////////////////

const (
	runEventStatus  = "run.status"
	runEventStarted = "step.started"
	runEventEnded   = "step.ended"

	runStatusQueued  = "queued"
	runStatusRunning = "running"
	runStatusDone    = "done"
	runStatusError   = "error"

	runEventSubscriberBuffer = 32
)

type runEventPayload struct {
	EventID    string    `json:"event_id"`
	Sequence   int64     `json:"sequence"`
	RunID      string    `json:"run_id"`
	Status     string    `json:"status"`
	At         time.Time `json:"at"`
	Worker     string    `json:"worker,omitempty"`
	StepIndex  int       `json:"step_index,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	Message    string    `json:"message,omitempty"`
	Error      string    `json:"error,omitempty"`
	Artifacts  []string  `json:"artifacts,omitempty"`
}

type runEventRecord struct {
	Name    string
	Payload runEventPayload
}

type runEventStream struct {
	records      []runEventRecord
	subscribers  map[uint64]chan runEventRecord
	nextSequence int64
}

type runEventHub struct {
	mu           sync.Mutex
	historyLimit int
	nextSubID    uint64
	streams      map[string]*runEventStream
}

func newRunEventHub(historyLimit int) *runEventHub {
	if historyLimit <= 0 {
		historyLimit = runEventsHistoryLimit
	}
	return &runEventHub{
		mu:           sync.Mutex{},
		historyLimit: historyLimit,
		nextSubID:    0,
		streams:      map[string]*runEventStream{},
	}
}

func (h *runEventHub) stream(runID string) *runEventStream {
	st, ok := h.streams[runID]
	if !ok {
		st = &runEventStream{
			records:      nil,
			subscribers:  map[uint64]chan runEventRecord{},
			nextSequence: 1,
		}
		h.streams[runID] = st
	}
	return st
}

func (h *runEventHub) publish(runID, name string, payload runEventPayload) {
	if h == nil {
		return
	}
	h.mu.Lock()
	st := h.stream(runID)
	payload.EventID = newID()
	payload.Sequence = st.nextSequence
	st.nextSequence++
	if payload.At.IsZero() {
		payload.At = time.Now().UTC()
	}
	record := runEventRecord{Name: name, Payload: payload}
	st.records = append(st.records, record)
	if len(st.records) > h.historyLimit {
		st.records = st.records[len(st.records)-h.historyLimit:]
	}
	subs := make([]chan runEventRecord, 0, len(st.subscribers))
	for _, ch := range st.subscribers {
		subs = append(subs, ch)
	}
	h.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- record:
		default:
		}
	}
}

// subscribe replays the stream history and then delivers live events.
func (h *runEventHub) subscribe(runID string) (uint64, []runEventRecord, <-chan runEventRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := h.stream(runID)
	h.nextSubID++
	id := h.nextSubID
	ch := make(chan runEventRecord, runEventSubscriberBuffer)
	st.subscribers[id] = ch
	history := make([]runEventRecord, len(st.records))
	copy(history, st.records)
	return id, history, ch
}

func (h *runEventHub) unsubscribe(runID string, subID uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.streams[runID]
	if !ok {
		return
	}
	if ch, ok := st.subscribers[subID]; ok {
		delete(st.subscribers, subID)
		close(ch)
	}
}

func emitRunStatus(hub *runEventHub, run ProvisionRun, message string) {
	if hub == nil {
		return
	}
	hub.publish(run.ID, runEventStatus, runEventPayload{
		RunID:   run.ID,
		Status:  run.Status,
		Message: message,
		Error:   run.Error,
	})
}

func emitRunStepStarted(hub *runEventHub, run ProvisionRun, worker string, stepIndex int, message string) {
	if hub == nil {
		return
	}
	hub.publish(run.ID, runEventStarted, runEventPayload{
		RunID:     run.ID,
		Status:    run.Status,
		Worker:    worker,
		StepIndex: stepIndex,
		Message:   message,
	})
}

func emitRunStepEnded(
	hub *runEventHub,
	run ProvisionRun,
	worker string,
	stepIndex int,
	message, stepErr string,
	artifacts []string,
	startedAt, endedAt time.Time,
) {
	if hub == nil {
		return
	}
	var durationMS int64
	if !startedAt.IsZero() && endedAt.After(startedAt) {
		durationMS = endedAt.Sub(startedAt).Milliseconds()
	}
	hub.publish(run.ID, runEventEnded, runEventPayload{
		RunID:      run.ID,
		Status:     run.Status,
		Worker:     worker,
		StepIndex:  stepIndex,
		DurationMS: durationMS,
		Message:    message,
		Error:      stepErr,
		Artifacts:  artifacts,
	})
}
