package forge

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Artifact paths shared between the workers and the read-model API.
const (
	artifactPathDiagnostics    = "validation/diagnostics.json"
	artifactPathSummary        = "validation/summary.txt"
	artifactPathManifest       = "devcontainer/devcontainer.json"
	artifactPathDockerfile     = "devcontainer/Dockerfile"
	artifactPathSynthesis      = "devcontainer/synthesis.json"
	artifactPathStructureCheck = "verify/structure-check.json"
	artifactPathWorkspaceInfo  = "repos/workspace-summary.json"
)

type workerOutcome struct {
	message   string
	artifacts []string
}

func newWorkerOutcome() workerOutcome {
	return workerOutcome{
		message:   "",
		artifacts: nil,
	}
}

func shortID(id string) string {
	if len(id) <= shortIDLength {
		return id
	}
	return id[:shortIDLength]
}

func workspaceRepoDir(artifacts ArtifactStore, envID string) string {
	return filepath.Join(artifacts.EnvDir(envID), "repos", "workspace")
}

func writeDeleteAudit(artifacts ArtifactStore, envID, opID string) {
	auditDir := filepath.Join(filepath.Dir(artifacts.EnvDir(envID)), "_audit")
	_ = os.MkdirAll(auditDir, dirModePrivateRead)
	_ = os.WriteFile(
		filepath.Join(auditDir, fmt.Sprintf("%s.deleted.txt", envID)),
		fmt.Appendf(
			nil,
			"environment=%s deleted at %s op=%s\n",
			envID,
			time.Now().UTC().Format(time.RFC3339),
			opID,
		),
		fileModePrivate,
	)
}
