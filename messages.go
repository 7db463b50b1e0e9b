package forge

import "time"

////////////////////////////////////////////////////////////////////////////////
// NATS messages
////////////////////////////////////////////////////////////////////////////////

type EnvOpMsg struct {
	OpID          string        `json:"op_id"`
	Kind          OperationKind `json:"kind"`
	EnvironmentID string        `json:"environment_id"`
	Selection     Selection     `json:"selection"` // synthesize/update only
	Err           string        `json:"err,omitempty"`
	At            time.Time     `json:"at"`
}

type WorkerResultMsg struct {
	OpID          string        `json:"op_id"`
	Kind          OperationKind `json:"kind"`
	EnvironmentID string        `json:"environment_id"`
	Selection     Selection     `json:"selection"`
	Worker        string        `json:"worker"`
	Message       string        `json:"message,omitempty"`
	Err           string        `json:"err,omitempty"`
	Artifacts     []string      `json:"artifacts,omitempty"` // relative paths
	At            time.Time     `json:"at"`
}

func zeroSelection() Selection {
	return Selection{
		Profile:             "",
		Shell:               "",
		Tools:               nil,
		SecurityTools:       nil,
		Features:            nil,
		ExtensionCategories: nil,
	}
}

func newWorkerResultMsg(message string) WorkerResultMsg {
	return WorkerResultMsg{
		OpID:          "",
		Kind:          "",
		EnvironmentID: "",
		Selection:     zeroSelection(),
		Worker:        "",
		Message:       message,
		Err:           "",
		Artifacts:     nil,
		At:            time.Time{},
	}
}
