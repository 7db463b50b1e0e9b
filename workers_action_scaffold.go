package forge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

func scaffoldWorkerAction(
	ctx context.Context,
	store *Store,
	artifacts ArtifactStore,
	msg EnvOpMsg,
) (WorkerResultMsg, error) {
	stepStart := time.Now().UTC()
	res := newWorkerResultMsg("scaffolder worker starting")
	_ = markOpStepStart(
		ctx,
		store,
		msg.OpID,
		"scaffolder",
		stepStart,
		"scaffold workspace repository",
	)

	sel := normalizeSelection(msg.Selection)
	outcome := newWorkerOutcome()
	var err error

	switch msg.Kind {
	case OpSynthesize, OpUpdate:
		outcome, err = runScaffoldCreateOrUpdate(ctx, store, artifacts, msg, sel)
	case OpDelete:
		outcome, err = runScaffoldDelete(ctx, store, artifacts, msg)
	default:
		err = fmt.Errorf("unknown op kind: %s", msg.Kind)
	}
	if err != nil {
		_ = finalizeOp(ctx, store, msg.OpID, msg.EnvironmentID, msg.Kind, opStatusError, err.Error())
		_ = markOpStepEnd(
			ctx,
			store,
			msg.OpID,
			"scaffolder",
			time.Now().UTC(),
			"",
			err.Error(),
			outcome.artifacts,
		)
		return res, err
	}

	_ = finalizeOp(ctx, store, msg.OpID, msg.EnvironmentID, msg.Kind, opStatusDone, "")
	res.Message = outcome.message
	res.Artifacts = outcome.artifacts
	_ = markOpStepEnd(
		ctx,
		store,
		msg.OpID,
		"scaffolder",
		time.Now().UTC(),
		res.Message,
		"",
		res.Artifacts,
	)
	return res, nil
}

func runScaffoldCreateOrUpdate(
	ctx context.Context,
	store *Store,
	artifacts ArtifactStore,
	msg EnvOpMsg,
	sel Selection,
) (workerOutcome, error) {
	envDir, err := artifacts.EnsureEnvDir(msg.EnvironmentID)
	if err != nil {
		return newWorkerOutcome(), err
	}
	workspaceDir := workspaceRepoDir(artifacts, msg.EnvironmentID)
	repoErr := ensureLocalGitRepo(ctx, workspaceDir)
	if repoErr != nil {
		return newWorkerOutcome(), repoErr
	}

	touched := make([]string, 0, touchedArtifactsCap)
	err = seedWorkspaceRepo(msg, sel, envDir, workspaceDir, &touched)
	if err != nil {
		return workerOutcome{message: "", artifacts: touched}, err
	}
	err = syncDevcontainerIntoWorkspace(artifacts, msg, envDir, workspaceDir, &touched)
	if err != nil {
		return workerOutcome{message: "", artifacts: touched}, err
	}
	_, commitErr := gitCommitIfChanged(
		ctx,
		workspaceDir,
		fmt.Sprintf("devforge-sync: scaffold workspace (%s)", shortID(msg.OpID)),
	)
	if commitErr != nil {
		return workerOutcome{message: "", artifacts: touched}, commitErr
	}
	err = writeScaffoldSummary(ctx, msg, envDir, workspaceDir, &touched)
	if err != nil {
		return workerOutcome{message: "", artifacts: touched}, err
	}
	updateEnvironmentReadyState(ctx, store, msg, sel)
	return workerOutcome{
		message:   "scaffolded workspace repository with devcontainer assets",
		artifacts: uniqueSorted(touched),
	}, nil
}

func seedWorkspaceRepo(
	msg EnvOpMsg,
	sel Selection,
	envDir, workspaceDir string,
	touched *[]string,
) error {
	readme := filepath.Join(workspaceDir, "README.md")
	readmeBody := fmt.Appendf(
		nil,
		"# devsec workspace\n\nProfile: %s\nShell: %s\n",
		sel.Profile,
		sel.Shell,
	)
	readmeCreated, err := writeFileIfMissing(readme, readmeBody)
	if err != nil {
		return err
	}
	recordTouched(envDir, touched, readme, readmeCreated)

	repoMeta := filepath.Join(workspaceDir, ".devforge", "workspace.json")
	metaUpdated, err := upsertFile(repoMeta, mustJSON(map[string]any{
		"environment_id": msg.EnvironmentID,
		"repo":           "workspace",
		"path":           workspaceDir,
		"branch":         branchMain,
	}))
	if err != nil {
		return err
	}
	recordTouched(envDir, touched, repoMeta, metaUpdated)
	return nil
}

func syncDevcontainerIntoWorkspace(
	artifacts ArtifactStore,
	msg EnvOpMsg,
	envDir, workspaceDir string,
	touched *[]string,
) error {
	manifestBody, err := artifacts.ReadFile(msg.EnvironmentID, artifactPathManifest)
	if err != nil {
		return fmt.Errorf("read composed manifest: %w", err)
	}
	manifestDest := filepath.Join(workspaceDir, ".devcontainer", "devcontainer.json")
	manifestChanged, err := upsertFile(manifestDest, manifestBody)
	if err != nil {
		return err
	}
	recordTouched(envDir, touched, manifestDest, manifestChanged)

	dockerfileBody, err := artifacts.ReadFile(msg.EnvironmentID, artifactPathDockerfile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	dockerfileDest := filepath.Join(workspaceDir, ".devcontainer", "Dockerfile")
	dockerfileChanged, err := upsertFile(dockerfileDest, dockerfileBody)
	if err != nil {
		return err
	}
	recordTouched(envDir, touched, dockerfileDest, dockerfileChanged)
	return nil
}

func writeScaffoldSummary(
	ctx context.Context,
	msg EnvOpMsg,
	envDir, workspaceDir string,
	touched *[]string,
) error {
	head, _ := gitRevParse(ctx, workspaceDir, "HEAD")
	summaryPath := filepath.Join(envDir, artifactPathWorkspaceInfo)
	updated, err := upsertFile(summaryPath, mustJSON(map[string]any{
		"environment_id":      msg.EnvironmentID,
		"workspace_repo_path": workspaceDir,
		"branch":              branchMain,
		"head":                head,
		"devcontainer_dir":    filepath.Join(workspaceDir, ".devcontainer"),
	}))
	if err != nil {
		return err
	}
	recordTouched(envDir, touched, summaryPath, updated)
	return nil
}

func updateEnvironmentReadyState(
	ctx context.Context,
	store *Store,
	msg EnvOpMsg,
	sel Selection,
) {
	env, getErr := store.GetEnvironment(ctx, msg.EnvironmentID)
	if getErr != nil {
		return
	}
	env.Spec.Selection = sel
	env.Status = EnvironmentStatus{
		Phase:      envPhaseReady,
		UpdatedAt:  time.Now().UTC(),
		LastOpID:   msg.OpID,
		LastOpKind: string(msg.Kind),
		Message:    "ready",
	}
	_ = store.PutEnvironment(ctx, env)
}

func runScaffoldDelete(
	ctx context.Context,
	store *Store,
	artifacts ArtifactStore,
	msg EnvOpMsg,
) (workerOutcome, error) {
	writeDeleteAudit(artifacts, msg.EnvironmentID, msg.OpID)
	removeErr := artifacts.RemoveEnv(msg.EnvironmentID)
	if removeErr != nil {
		return newWorkerOutcome(), removeErr
	}
	_ = store.DeleteEnvironment(ctx, msg.EnvironmentID)
	return workerOutcome{
		message:   "environment deleted and artifacts cleaned",
		artifacts: []string{},
	}, nil
}
