package forge

import (
	"os"
	"time"
)

////////////////////////////////////////////////////////////////////////////////
// Subjects (validate -> compose -> verify -> scaffold chain) + KV buckets
////////////////////////////////////////////////////////////////////////////////

const (
	appVersion = "0.4.0"

	// API publishes environment operations here.
	subjectEnvOpStart = "forge.env.op.start"

	// Worker pipeline chain.
	subjectValidationDone = "forge.env.op.validation.done"
	subjectComposeDone    = "forge.env.op.compose.done"
	subjectVerifyDone     = "forge.env.op.verify.done"
	subjectScaffoldDone   = "forge.env.op.scaffold.done"

	// KV buckets.
	kvBucketEnvironments = "forge_environments"
	kvBucketOps          = "forge_ops"

	// Environment keys in KV. Revisions and the per-environment indexes live
	// in the ops bucket.
	kvEnvironmentKeyPrefix        = "environment/"
	kvOpKeyPrefix                 = "op/"
	kvRevisionKeyPrefix           = "revision/"
	kvEnvOpsIndexKeyPrefix        = "ops-index/"
	kvEnvRevisionIndexKeyPrefix   = "revision-index/"
	kvEnvRevisionCurrentKeyPrefix = "revision-current/"

	// HTTP.
	httpAddr = "127.0.0.1:8080"

	// Where workers write artifacts.
	defaultArtifactsRoot = "./data/artifacts"

	// API wait timeout per request.
	apiWaitTimeout = 45 * time.Second

	// Schema defaults for stored environments.
	environmentAPIVersion = "devforge.theredguild.dev/v1"
	environmentKind       = "DevEnvironment"

	defaultKVEnvironmentHistory = 25
	defaultKVOpsHistory         = 50
	defaultStartupWait          = 10 * time.Second
	defaultReadHeaderWait       = 5 * time.Second
	gitOpTimeout                = 20 * time.Second
	gitReadTimeout              = 10 * time.Second
	shortIDLength               = 12
	httpServerErrThreshold      = 500
	httpClientErrThreshold      = 400

	fileModePrivate     os.FileMode = 0o600
	fileModeExecPrivate os.FileMode = 0o700
	dirModePrivateRead  os.FileMode = 0o750
	envRelPathPartsMin              = 2
	touchedArtifactsCap             = 8

	branchMain          = "main"
	envPhaseReady       = "Ready"
	envPhaseError       = "Error"
	envPhaseDeleting    = "Deleting"
	envPhaseReconciling = "Reconciling"

	opStatusQueued  = "queued"
	opStatusRunning = "running"
	opStatusDone    = "done"
	opStatusError   = "error"

	// Advisory thresholds for selection validation.
	hardenedToolBudget    = 3
	selectionStackBudget  = 5
	securityToolAdviceMin = 3

	// Container identities and paths baked into generated artifacts.
	unprivilegedBuildUser  = "devsec"
	unprivilegedBuildUID   = 1000
	auditorContainerUser   = "nobody"
	seccompProfilePath     = "/etc/devsec/seccomp.json"
	containerWorkspacePath = "/workspaces"
)
