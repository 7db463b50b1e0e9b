//nolint:testpackage // External tests call these wrappers; bridge must access unexported internals.
package forge

import (
	"context"
	"net/http"
	"time"
)

const (
	EnvironmentAPIVersionForTest = environmentAPIVersion
	EnvironmentKindForTest       = environmentKind
)

func NewTestAPI(artifacts ArtifactStore) *API {
	return &API{
		nc:                  nil,
		store:               nil,
		artifacts:           artifacts,
		waiters:             nil,
		opEvents:            nil,
		opHeartbeatInterval: 0,
		system: runtimeSystemInfo{
			Version:                 "",
			HTTPAddr:                "",
			ArtifactsRoot:           "",
			ValidationModeRequested: "",
			ValidationModeEffective: "",
			ValidationModeReason:    "",
			NATSEmbedded:            false,
			NATSStoreDir:            "",
			NATSStoreEphemeral:      false,
		},
	}
}

type RuntimeSystemConfigForTest struct {
	Version                 string
	HTTPAddr                string
	ArtifactsRoot           string
	ValidationModeRequested string
	ValidationModeEffective string
	ValidationModeReason    string
	NATSEmbedded            bool
	NATSStoreDir            string
	NATSStoreEphemeral      bool
}

func NewSystemTestAPI(
	artifacts ArtifactStore,
	sseEnabled bool,
	heartbeat time.Duration,
	cfg RuntimeSystemConfigForTest,
) *API {
	api := NewTestAPI(artifacts)
	if sseEnabled {
		api.opEvents = newOpEventHub(opEventsHistoryLimit, opEventsRetention)
	}
	api.opHeartbeatInterval = heartbeat
	api.system = runtimeSystemInfo{
		Version:                 cfg.Version,
		HTTPAddr:                cfg.HTTPAddr,
		ArtifactsRoot:           cfg.ArtifactsRoot,
		ValidationModeRequested: cfg.ValidationModeRequested,
		ValidationModeEffective: cfg.ValidationModeEffective,
		ValidationModeReason:    cfg.ValidationModeReason,
		NATSEmbedded:            cfg.NATSEmbedded,
		NATSStoreDir:            cfg.NATSStoreDir,
		NATSStoreEphemeral:      cfg.NATSStoreEphemeral,
	}
	return api
}

func RoutesForTest(api *API) http.Handler {
	return api.routes()
}

func InvokeHandleEnvironmentByIDForTest(api *API, w http.ResponseWriter, r *http.Request) {
	api.handleEnvironmentByID(w, r)
}

func InvokeHandleEnvironmentArtifactsForTest(api *API, w http.ResponseWriter, r *http.Request) {
	api.handleEnvironmentArtifacts(w, r)
}

func NormalizeEnvironmentSpecForTest(in EnvironmentSpec) EnvironmentSpec {
	return normalizeEnvironmentSpec(in)
}

func ValidateEnvironmentSpecForTest(spec EnvironmentSpec) error {
	return validateEnvironmentSpec(spec)
}

func SynthesizeStrictForTest(sel Selection) (SynthesisResult, error) {
	return synthesizeWithMode(sel, validationModeStrict)
}

type WaiterHubForTest struct {
	hub *waiterHub
}

func NewWaiterHubForTest() *WaiterHubForTest {
	return &WaiterHubForTest{
		hub: newWaiterHub(),
	}
}

func (h *WaiterHubForTest) Register(opID string) <-chan WorkerResultMsg {
	return h.hub.register(opID)
}

func (h *WaiterHubForTest) Unregister(opID string) {
	h.hub.unregister(opID)
}

func (h *WaiterHubForTest) Deliver(opID string, msg WorkerResultMsg) {
	h.hub.deliver(opID, msg)
}

func EnsureLocalGitRepoForTest(ctx context.Context, dir string) error {
	return ensureLocalGitRepo(ctx, dir)
}

func UpsertFileForTest(path string, data []byte) (bool, error) {
	return upsertFile(path, data)
}

func WriteFileIfMissingForTest(path string, data []byte) (bool, error) {
	return writeFileIfMissing(path, data)
}

func GitCommitIfChangedForTest(ctx context.Context, dir, message string) (bool, error) {
	return gitCommitIfChanged(ctx, dir, message)
}

func GitRevParseForTest(ctx context.Context, dir, ref string) (string, error) {
	return gitRevParse(ctx, dir, ref)
}

func GitHeadDetailsForTest(ctx context.Context, dir string) (string, string, string, error) {
	return gitHeadDetails(ctx, dir)
}

func RunValidationForTest(
	artifacts ArtifactStore,
	envID, opID string,
	sel Selection,
	strict bool,
) (string, []string, error) {
	mode := validationModeAdvisory
	if strict {
		mode = validationModeStrict
	}
	msg := EnvOpMsg{
		OpID:          opID,
		Kind:          OpSynthesize,
		EnvironmentID: envID,
		Selection:     sel,
		Err:           "",
		At:            time.Now().UTC(),
	}
	outcome, err := runValidation(artifacts, msg, normalizeSelection(sel), mode)
	return outcome.message, outcome.artifacts, err
}

func RunVerifyForTest(artifacts ArtifactStore, envID, opID string) (string, []string, error) {
	msg := EnvOpMsg{
		OpID:          opID,
		Kind:          OpSynthesize,
		EnvironmentID: envID,
		Selection:     zeroSelection(),
		Err:           "",
		At:            time.Now().UTC(),
	}
	outcome, err := runVerify(artifacts, msg)
	return outcome.message, outcome.artifacts, err
}

func BuildEnvironmentBundleForTest(api *API, envID string, files []string) ([]byte, error) {
	return api.buildEnvironmentBundle(envID, files)
}

func OpSummaryMessageForTest(op Operation) string {
	return opSummaryMessage(op)
}

func OpLastUpdateAtForTest(op Operation) time.Time {
	return opLastUpdateAt(op)
}
