package forge

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

////////////////////////////////////////////////////////////////////////////////
// Domain model: Environments + Operations
////////////////////////////////////////////////////////////////////////////////

// EnvironmentSpec is the persisted intent: a named selection plus the schema
// envelope. The embedded Selection is what synthesis actually consumes.
type EnvironmentSpec struct {
	APIVersion string    `json:"apiVersion"`
	Kind       string    `json:"kind"`
	Name       string    `json:"name"`
	Selection  Selection `json:"selection"`
}

type EnvironmentStatus struct {
	Phase      string    `json:"phase"`      // Ready | Reconciling | Deleting | Error
	UpdatedAt  time.Time `json:"updated_at"` //
	LastOpID   string    `json:"last_op_id"` //
	LastOpKind string    `json:"last_op_kind"`
	Message    string    `json:"message,omitempty"`
}

type Environment struct {
	ID        string            `json:"id"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Spec      EnvironmentSpec   `json:"spec"`
	Status    EnvironmentStatus `json:"status"`
}

type OperationKind string

const (
	OpSynthesize OperationKind = "synthesize"
	OpUpdate     OperationKind = "update"
	OpDelete     OperationKind = "delete"
)

type OpStep struct {
	Worker    string    `json:"worker"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	Artifacts []string  `json:"artifacts,omitempty"` // relative paths
}

type Operation struct {
	ID            string        `json:"id"`
	Kind          OperationKind `json:"kind"`
	EnvironmentID string        `json:"environment_id"`
	Requested     time.Time     `json:"requested"`
	Finished      time.Time     `json:"finished"`
	Status        string        `json:"status"` // queued|running|done|error
	Error         string        `json:"error,omitempty"`
	Steps         []OpStep      `json:"steps"`
}

var environmentNameRe = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

func normalizeEnvironmentSpec(in EnvironmentSpec) EnvironmentSpec {
	spec := in
	spec.APIVersion = strings.TrimSpace(spec.APIVersion)
	if spec.APIVersion == "" {
		spec.APIVersion = environmentAPIVersion
	}
	spec.Kind = strings.TrimSpace(spec.Kind)
	if spec.Kind == "" {
		spec.Kind = environmentKind
	}
	spec.Name = strings.TrimSpace(spec.Name)
	spec.Selection = normalizeSelection(spec.Selection)
	return spec
}

func validateEnvironmentSpec(spec EnvironmentSpec) error {
	if spec.APIVersion != environmentAPIVersion {
		return fmt.Errorf("apiVersion must be %q", environmentAPIVersion)
	}
	if spec.Kind != environmentKind {
		return fmt.Errorf("kind must be %q", environmentKind)
	}
	if len(spec.Name) < 1 || len(spec.Name) > 63 || !environmentNameRe.MatchString(spec.Name) {
		return fmt.Errorf("name must match %s", environmentNameRe.String())
	}
	return validateSelection(spec.Selection)
}
