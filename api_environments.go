package forge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

func (a *API) handleEnvironments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		envs, err := a.store.ListEnvironments(r.Context())
		if err != nil {
			http.Error(w, "failed to list environments", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, envs)

	case http.MethodPost:
		var spec EnvironmentSpec
		if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		env, op, final, err := a.createEnvironmentFromSpec(r.Context(), spec)
		if err != nil {
			writeSynthesisError(w, err)
			return
		}
		writeEnvironmentOpFinalResponse(w, env, op, final)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *API) handleEnvironmentByID(w http.ResponseWriter, r *http.Request) {
	envID, ok := a.resolveEnvironmentIDFromPath(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		a.handleEnvironmentGetByID(w, r, envID)
	case http.MethodPut:
		a.handleEnvironmentUpdateByID(w, r, envID)
	case http.MethodDelete:
		a.handleEnvironmentDeleteByID(w, r, envID)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *API) resolveEnvironmentIDFromPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	if !strings.HasPrefix(r.URL.Path, "/api/environments/") {
		http.NotFound(w, r)
		return "", false
	}
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/environments/"), "/")
	if rest == "" {
		http.NotFound(w, r)
		return "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) > 1 {
		switch parts[1] {
		case "artifacts":
			a.handleEnvironmentArtifacts(w, r)
		case "bundle":
			a.handleEnvironmentBundle(w, r)
		case "ops":
			a.handleEnvironmentOps(w, r)
		case "revisions":
			a.handleEnvironmentRevisions(w, r)
		case "report":
			a.handleEnvironmentReport(w, r)
		default:
			http.NotFound(w, r)
		}
		return "", false
	}
	envID := strings.TrimSpace(parts[0])
	if envID == "" {
		http.Error(w, "bad environment id", http.StatusBadRequest)
		return "", false
	}
	return envID, true
}

func (a *API) handleEnvironmentGetByID(w http.ResponseWriter, r *http.Request, envID string) {
	env, ok := a.getEnvironmentOrWriteError(w, r, envID)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, env)
}

func (a *API) handleEnvironmentUpdateByID(w http.ResponseWriter, r *http.Request, envID string) {
	var spec EnvironmentSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	env, op, final, err := a.updateEnvironmentFromSpec(r.Context(), envID, spec)
	if err != nil {
		writeSynthesisError(w, err)
		return
	}
	writeEnvironmentOpFinalResponse(w, env, op, final)
}

func (a *API) handleEnvironmentDeleteByID(w http.ResponseWriter, r *http.Request, envID string) {
	op, final, err := a.deleteEnvironment(r.Context(), envID)
	if err != nil {
		writeSynthesisError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deleted": true,
		"op":      op,
		"final":   final,
	})
}

////////////////////////////////////////////////////////////////////////////////
// Lifecycle helpers shared by the REST routes and the synthesis event hook
////////////////////////////////////////////////////////////////////////////////

func (a *API) createEnvironmentFromSpec(
	ctx context.Context,
	spec EnvironmentSpec,
) (Environment, Operation, WorkerResultMsg, error) {
	spec = normalizeEnvironmentSpec(spec)
	if err := validateEnvironmentSpec(spec); err != nil {
		return Environment{}, Operation{}, WorkerResultMsg{}, err
	}

	envID := newID()
	now := time.Now().UTC()
	env := Environment{
		ID:        envID,
		CreatedAt: now,
		UpdatedAt: now,
		Spec:      spec,
		Status: EnvironmentStatus{
			Phase:      envPhaseReconciling,
			UpdatedAt:  now,
			LastOpID:   "",
			LastOpKind: "",
			Message:    opStatusQueued,
		},
	}
	putErr := a.store.PutEnvironment(ctx, env)
	if putErr != nil {
		return Environment{}, Operation{}, WorkerResultMsg{}, errors.New(
			"failed to persist environment",
		)
	}

	op, final, err := a.runOp(ctx, OpSynthesize, envID, spec.Selection)
	if err != nil {
		return Environment{}, Operation{}, WorkerResultMsg{}, err
	}
	env, _ = a.store.GetEnvironment(ctx, envID)
	return env, op, final, nil
}

func (a *API) updateEnvironmentFromSpec(
	ctx context.Context,
	envID string,
	spec EnvironmentSpec,
) (Environment, Operation, WorkerResultMsg, error) {
	spec = normalizeEnvironmentSpec(spec)
	if err := validateEnvironmentSpec(spec); err != nil {
		return Environment{}, Operation{}, WorkerResultMsg{}, err
	}

	env, err := a.store.GetEnvironment(ctx, envID)
	if err != nil {
		return Environment{}, Operation{}, WorkerResultMsg{}, err
	}
	env.Spec = spec
	env.Status.Phase = envPhaseReconciling
	env.Status.Message = "queued update"
	env.Status.UpdatedAt = time.Now().UTC()
	putErr := a.store.PutEnvironment(ctx, env)
	if putErr != nil {
		return Environment{}, Operation{}, WorkerResultMsg{}, errors.New(
			"failed to persist environment",
		)
	}

	op, final, err := a.runOp(ctx, OpUpdate, envID, spec.Selection)
	if err != nil {
		return Environment{}, Operation{}, WorkerResultMsg{}, err
	}
	env, _ = a.store.GetEnvironment(ctx, envID)
	return env, op, final, nil
}

func (a *API) deleteEnvironment(
	ctx context.Context,
	envID string,
) (Operation, WorkerResultMsg, error) {
	env, err := a.store.GetEnvironment(ctx, envID)
	if err != nil {
		return Operation{}, WorkerResultMsg{}, err
	}
	env.Status.Phase = envPhaseDeleting
	env.Status.Message = "queued delete"
	env.Status.UpdatedAt = time.Now().UTC()
	_ = a.store.PutEnvironment(ctx, env)

	op, final, err := a.runOp(ctx, OpDelete, envID, zeroSelection())
	if err != nil {
		return Operation{}, WorkerResultMsg{}, err
	}
	return op, final, nil
}

func (a *API) getEnvironmentOrWriteError(
	w http.ResponseWriter,
	r *http.Request,
	envID string,
) (Environment, bool) {
	env, err := a.store.GetEnvironment(r.Context(), envID)
	if err == nil {
		return env, true
	}
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return Environment{}, false
	}
	http.Error(w, "failed to read environment", http.StatusInternalServerError)
	return Environment{}, false
}

func writeEnvironmentOpFinalResponse(
	w http.ResponseWriter,
	env Environment,
	op Operation,
	final WorkerResultMsg,
) {
	writeJSON(w, http.StatusOK, map[string]any{
		"environment": env,
		"op":          op,
		"final":       final,
	})
}

func writeSynthesisError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jetstream.ErrKeyNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case isValidationError(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func isValidationError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "must") || strings.Contains(msg, "invalid")
}

////////////////////////////////////////////////////////////////////////////////
// Environment report: pipeline milestones + artifact evidence read-model
////////////////////////////////////////////////////////////////////////////////

type environmentReport struct {
	Summary         string                   `json:"summary"`
	Milestones      []environmentMilestone   `json:"milestones"`
	NextAction      environmentNextAction    `json:"next_action"`
	ArtifactStats   environmentArtifactStats `json:"artifact_stats"`
	Synthesis       *synthesisSummary        `json:"synthesis,omitempty"`
	CurrentRevision *RevisionRecord          `json:"current_revision,omitempty"`
	RecentOp        *Operation               `json:"recent_operation,omitempty"`
	LastUpdateTime  time.Time                `json:"last_update_time"`
}

type environmentMilestone struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status"` // complete | in_progress | pending | blocked | failed
	Detail string `json:"detail"`
}

type environmentNextAction struct {
	Kind   string `json:"kind"` // synthesize | download | investigate | none
	Label  string `json:"label"`
	Detail string `json:"detail"`
}

type environmentArtifactStats struct {
	Total      int `json:"total"`
	Validation int `json:"validation"`
	Container  int `json:"container"`
	Verify     int `json:"verify"`
	Workspace  int `json:"workspace"`
	Other      int `json:"other"`
}

// synthesisSummary mirrors the keys the composer records in synthesis.json.
type synthesisSummary struct {
	Profile     string `json:"profile"`
	CustomBuild bool   `json:"custom_build"`
	Image       string `json:"image,omitempty"`
	Errors      int    `json:"errors"`
	Warnings    int    `json:"warnings"`
	Infos       int    `json:"infos"`
	ComposedAt  string `json:"composed_at,omitempty"`
}

const (
	reportStatusComplete   = "complete"
	reportStatusInProgress = "in_progress"
	reportStatusPending    = "pending"
	reportStatusBlocked    = "blocked"
	reportStatusFailed     = "failed"

	reportPathPartsExpected = 2
)

// reportStage ties a pipeline stage to the artifact that proves it ran.
type reportStage struct {
	id       string
	title    string
	evidence string
}

func reportStages() []reportStage {
	return []reportStage{
		{id: "validated", title: "Selection validated", evidence: artifactPathDiagnostics},
		{id: "composed", title: "Devcontainer composed", evidence: artifactPathManifest},
		{id: "verified", title: "Structure verified", evidence: artifactPathStructureCheck},
		{id: "scaffolded", title: "Workspace scaffolded", evidence: artifactPathWorkspaceInfo},
	}
}

func (a *API) handleEnvironmentReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if a.store == nil || a.artifacts == nil {
		http.Error(w, "report data unavailable", http.StatusInternalServerError)
		return
	}

	if !strings.HasPrefix(r.URL.Path, "/api/environments/") {
		http.NotFound(w, r)
		return
	}
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/environments/"), "/")
	parts := strings.Split(rest, "/")
	if len(parts) != reportPathPartsExpected || parts[1] != "report" {
		http.NotFound(w, r)
		return
	}

	envID := strings.TrimSpace(parts[0])
	if envID == "" {
		http.Error(w, "bad environment id", http.StatusBadRequest)
		return
	}

	env, ok := a.getEnvironmentOrWriteError(w, r, envID)
	if !ok {
		return
	}
	files, err := a.artifacts.ListFiles(envID)
	if err != nil {
		http.Error(w, "failed to list artifacts", http.StatusInternalServerError)
		return
	}

	report, err := a.buildEnvironmentReport(r.Context(), env, files)
	if err != nil {
		http.Error(w, "failed to build environment report", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"environment": env,
		"report":      report,
	})
}

func (a *API) buildEnvironmentReport(
	ctx context.Context,
	env Environment,
	files []string,
) (environmentReport, error) {
	fileSet := make(map[string]struct{}, len(files))
	for _, path := range files {
		fileSet[path] = struct{}{}
	}

	synthesis := a.readSynthesisSummary(env.ID, fileSet)
	milestones := buildReportMilestones(env, fileSet)

	currentRevision, hasRevision, err := a.store.getEnvCurrentRevision(ctx, env.ID)
	if err != nil {
		return environmentReport{}, err
	}
	var revisionPtr *RevisionRecord
	if hasRevision {
		revisionCopy := currentRevision
		revisionPtr = &revisionCopy
	}

	recentOp, foundRecentOp, err := a.readRecentOp(ctx, env.Status.LastOpID)
	if err != nil {
		return environmentReport{}, err
	}
	var recentOpPtr *Operation
	if foundRecentOp {
		recentOpCopy := recentOp
		recentOpPtr = &recentOpCopy
	}

	return environmentReport{
		Summary:         describeReportSummary(env, milestones),
		Milestones:      milestones,
		NextAction:      recommendReportAction(env, fileSet),
		ArtifactStats:   summarizeEnvironmentArtifacts(files),
		Synthesis:       synthesis,
		CurrentRevision: revisionPtr,
		RecentOp:        recentOpPtr,
		LastUpdateTime:  time.Now().UTC(),
	}, nil
}

func buildReportMilestones(env Environment, fileSet map[string]struct{}) []environmentMilestone {
	milestones := []environmentMilestone{
		{
			ID:     "created",
			Title:  "Environment created",
			Status: reportStatusComplete,
			Detail: fmt.Sprintf("Environment %q is registered.", env.Spec.Name),
		},
	}

	reconciling := env.Status.Phase == envPhaseReconciling &&
		(env.Status.LastOpKind == string(OpSynthesize) || env.Status.LastOpKind == string(OpUpdate))

	previousComplete := true
	for _, stage := range reportStages() {
		complete := hasArtifactPath(fileSet, stage.evidence)
		status := reportStatusPending
		detail := "No artifacts yet."

		switch {
		case complete:
			status = reportStatusComplete
			detail = fmt.Sprintf("Artifact %s is available.", stage.evidence)
		case !previousComplete:
			status = reportStatusBlocked
			detail = "Waiting for the earlier pipeline stage first."
		case reconciling:
			status = reportStatusInProgress
			detail = "The running operation has not reached this stage yet."
		case env.Status.Phase == envPhaseError:
			status = reportStatusFailed
			detail = firstNonEmpty(env.Status.Message, "This stage needs attention.")
		}

		milestones = append(milestones, environmentMilestone{
			ID:     stage.id,
			Title:  stage.title,
			Status: status,
			Detail: detail,
		})
		previousComplete = previousComplete && complete
	}

	return milestones
}

func recommendReportAction(env Environment, fileSet map[string]struct{}) environmentNextAction {
	if env.Status.Phase == envPhaseError {
		return environmentNextAction{
			Kind:  "investigate",
			Label: "Review failing operation",
			Detail: firstNonEmpty(
				env.Status.Message,
				"Open the latest operation details, then retry.",
			),
		}
	}
	if env.Status.Phase == envPhaseReconciling {
		return environmentNextAction{
			Kind:   "none",
			Label:  "Wait for the running operation",
			Detail: "Synthesis is in progress. Stream its op events for live detail.",
		}
	}

	complete := true
	for _, stage := range reportStages() {
		if !hasArtifactPath(fileSet, stage.evidence) {
			complete = false
			break
		}
	}
	if complete {
		return environmentNextAction{
			Kind:   "download",
			Label:  "Download the bundle",
			Detail: "Fetch the bundle and open the workspace in a devcontainer-aware editor.",
		}
	}
	return environmentNextAction{
		Kind:   "synthesize",
		Label:  "Run synthesis",
		Detail: "Trigger synthesis so the devcontainer artifacts exist.",
	}
}

func describeReportSummary(env Environment, milestones []environmentMilestone) string {
	stageTotal := 0
	stageComplete := 0
	for _, milestone := range milestones {
		if milestone.ID == "created" {
			continue
		}
		stageTotal++
		if milestone.Status == reportStatusComplete {
			stageComplete++
		}
	}
	switch {
	case env.Status.Phase == envPhaseError:
		return firstNonEmpty(env.Status.Message, "Synthesis needs attention.")
	case stageComplete == 0:
		return "Environment is created. Synthesis has not produced artifacts yet."
	case stageComplete < stageTotal:
		return fmt.Sprintf(
			"Synthesis is underway: %d of %d pipeline stages have artifacts.",
			stageComplete,
			stageTotal,
		)
	default:
		return "Devcontainer artifacts are complete and verified."
	}
}

func summarizeEnvironmentArtifacts(files []string) environmentArtifactStats {
	stats := environmentArtifactStats{
		Total:      len(files),
		Validation: 0,
		Container:  0,
		Verify:     0,
		Workspace:  0,
		Other:      0,
	}
	for _, file := range files {
		switch {
		case strings.HasPrefix(file, "validation/"):
			stats.Validation++
		case strings.HasPrefix(file, "devcontainer/"):
			stats.Container++
		case strings.HasPrefix(file, "verify/"):
			stats.Verify++
		case strings.HasPrefix(file, "repos/"):
			stats.Workspace++
		default:
			stats.Other++
		}
	}
	return stats
}

func hasArtifactPath(fileSet map[string]struct{}, path string) bool {
	_, ok := fileSet[path]
	return ok
}

// readSynthesisSummary tolerates a missing or unreadable artifact: the report
// still renders from the milestone evidence alone.
func (a *API) readSynthesisSummary(envID string, fileSet map[string]struct{}) *synthesisSummary {
	if !hasArtifactPath(fileSet, artifactPathSynthesis) {
		return nil
	}
	data, err := a.artifacts.ReadFile(envID, artifactPathSynthesis)
	if err != nil {
		return nil
	}
	var summary synthesisSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil
	}
	return &summary
}

func (a *API) readRecentOp(ctx context.Context, opID string) (Operation, bool, error) {
	opID = strings.TrimSpace(opID)
	if opID == "" {
		return Operation{}, false, nil
	}
	op, err := a.store.GetOp(ctx, opID)
	if err == nil {
		return op, true, nil
	}
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return Operation{}, false, nil
	}
	return Operation{}, false, err
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}
