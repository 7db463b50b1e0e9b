package forge

import (
	"context"
	"fmt"
	"time"
)

func composeWorkerAction(
	ctx context.Context,
	store *Store,
	artifacts ArtifactStore,
	msg EnvOpMsg,
) (WorkerResultMsg, error) {
	stepStart := time.Now().UTC()
	res := newWorkerResultMsg("composer worker starting")
	_ = markOpStepStart(
		ctx,
		store,
		msg.OpID,
		"composer",
		stepStart,
		"compose devcontainer manifest and build plan",
	)

	sel := normalizeSelection(msg.Selection)
	outcome := newWorkerOutcome()
	var err error

	switch msg.Kind {
	case OpSynthesize, OpUpdate:
		outcome, err = runCompose(ctx, store, artifacts, msg, sel)
	case OpDelete:
		outcome = workerOutcome{
			message:   "composition skipped for delete operation",
			artifacts: nil,
		}
	default:
		err = fmt.Errorf("unknown op kind: %s", msg.Kind)
	}
	if err != nil {
		_ = markOpStepEnd(
			ctx,
			store,
			msg.OpID,
			"composer",
			time.Now().UTC(),
			"",
			err.Error(),
			outcome.artifacts,
		)
		return res, err
	}

	res.Message = outcome.message
	res.Artifacts = outcome.artifacts
	_ = markOpStepEnd(
		ctx,
		store,
		msg.OpID,
		"composer",
		time.Now().UTC(),
		res.Message,
		"",
		res.Artifacts,
	)
	return res, nil
}

func runCompose(
	ctx context.Context,
	store *Store,
	artifacts ArtifactStore,
	msg EnvOpMsg,
	sel Selection,
) (workerOutcome, error) {
	result, err := Synthesize(sel)
	if err != nil {
		return newWorkerOutcome(), err
	}

	manifestPath, err := artifacts.WriteFile(
		msg.EnvironmentID,
		artifactPathManifest,
		result.ManifestJSON(),
	)
	if err != nil {
		return newWorkerOutcome(), err
	}
	touched := []string{manifestPath}

	dockerfileRecorded := ""
	if result.CustomBuild {
		dockerfilePath, writeErr := artifacts.WriteFile(
			msg.EnvironmentID,
			artifactPathDockerfile,
			[]byte(result.Dockerfile),
		)
		if writeErr != nil {
			return workerOutcome{message: "", artifacts: touched}, writeErr
		}
		touched = append(touched, dockerfilePath)
		dockerfileRecorded = dockerfilePath
	}

	synthesisPath, err := artifacts.WriteFile(
		msg.EnvironmentID,
		artifactPathSynthesis,
		mustJSON(map[string]any{
			"environment_id": msg.EnvironmentID,
			"op_id":          msg.OpID,
			"kind":           msg.Kind,
			"profile":        result.Selection.Profile,
			"custom_build":   result.CustomBuild,
			"image":          result.Manifest.Image,
			"errors":         countDiagnostics(result.Diagnostics, SeverityError),
			"warnings":       countDiagnostics(result.Diagnostics, SeverityWarning),
			"infos":          countDiagnostics(result.Diagnostics, SeverityInfo),
			"composed_at":    time.Now().UTC().Format(time.RFC3339),
		}),
	)
	if err != nil {
		return workerOutcome{message: "", artifacts: touched}, err
	}
	touched = append(touched, synthesisPath)

	_, err = store.PutRevision(ctx, RevisionRecord{
		ID:             "",
		EnvironmentID:  msg.EnvironmentID,
		OpID:           msg.OpID,
		OpKind:         msg.Kind,
		Profile:        result.Selection.Profile,
		CustomBuild:    result.CustomBuild,
		Image:          result.Manifest.Image,
		Errors:         countDiagnostics(result.Diagnostics, SeverityError),
		Warnings:       countDiagnostics(result.Diagnostics, SeverityWarning),
		Infos:          countDiagnostics(result.Diagnostics, SeverityInfo),
		ManifestPath:   manifestPath,
		DockerfilePath: dockerfileRecorded,
		CreatedAt:      time.Time{},
	})
	if err != nil {
		return workerOutcome{message: "", artifacts: touched}, err
	}

	message := fmt.Sprintf(
		"composed devcontainer manifest referencing image %s",
		result.Manifest.Image,
	)
	if result.CustomBuild {
		message = "composed devcontainer manifest with custom build script"
	}
	return workerOutcome{
		message:   message,
		artifacts: touched,
	}, nil
}
