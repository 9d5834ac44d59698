package envforge

import "time"

////////////////////////////////////////////////////////////////////////////////
// NATS messages
////////////////////////////////////////////////////////////////////////////////

type ProvisionOpMsg struct {
	RunID  string          `json:"run_id"`
	Spec   EnvironmentSpec `json:"spec"`
	Params BuildParameters `json:"params"`
	Err    string          `json:"err,omitempty"`
	At     time.Time       `json:"at"`
}

type WorkerResultMsg struct {
	RunID     string          `json:"run_id"`
	Spec      EnvironmentSpec `json:"spec"`
	Params    BuildParameters `json:"params"`
	Worker    string          `json:"worker"`
	Message   string          `json:"message,omitempty"`
	Err       string          `json:"err,omitempty"`
	Artifacts []string        `json:"artifacts,omitempty"` // relative paths
	At        time.Time       `json:"at"`
}

func newWorkerResultMsg(message string) WorkerResultMsg {
	return WorkerResultMsg{
		RunID:     "",
		Spec:      EnvironmentSpec{},
		Params:    BuildParameters{},
		Worker:    "",
		Message:   message,
		Err:       "",
		Artifacts: nil,
		At:        time.Time{},
	}
}
