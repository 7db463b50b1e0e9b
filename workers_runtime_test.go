//nolint:testpackage // Worker runtime tests exercise unexported bookkeeping and chain helpers.
package forge

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

type workerRuntimeFixture struct {
	t        *testing.T
	storeDir string
	ns       *server.Server
	nc       *nats.Conn
	js       jetstream.JetStream
	store    *Store
}

func newWorkerRuntimeFixture(t *testing.T) *workerRuntimeFixture {
	t.Helper()

	ns, natsURL, storeDir, err := startEmbeddedNATS("")
	if err != nil {
		t.Skipf("embedded nats is unavailable in this environment: %v", err)
	}
	nc, err := nats.Connect(natsURL, nats.Name("workers-runtime-test"))
	if err != nil {
		ns.Shutdown()
		ns.WaitForShutdown()
		_ = os.RemoveAll(storeDir)
		t.Skipf("nats connect is unavailable in this environment: %v", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		_ = nc.Drain()
		ns.Shutdown()
		ns.WaitForShutdown()
		_ = os.RemoveAll(storeDir)
		t.Skipf("jetstream client is unavailable in this environment: %v", err)
	}
	store, err := newStore(context.Background(), js)
	if err != nil {
		_ = nc.Drain()
		ns.Shutdown()
		ns.WaitForShutdown()
		_ = os.RemoveAll(storeDir)
		t.Skipf("store initialization is unavailable in this environment: %v", err)
	}
	return &workerRuntimeFixture{
		t:        t,
		storeDir: storeDir,
		ns:       ns,
		nc:       nc,
		js:       js,
		store:    store,
	}
}

func (f *workerRuntimeFixture) close() {
	if f == nil {
		return
	}
	if f.nc != nil {
		_ = f.nc.Drain()
	}
	if f.ns != nil {
		f.ns.Shutdown()
		f.ns.WaitForShutdown()
	}
	_ = os.RemoveAll(f.storeDir)
}

func putWorkerRuntimeEnvAndOp(
	t *testing.T,
	store *Store,
	envID, opID string,
	kind OperationKind,
	sel Selection,
) {
	t.Helper()
	now := time.Now().UTC()
	env := Environment{
		ID:        envID,
		CreatedAt: now,
		UpdatedAt: now,
		Spec: normalizeEnvironmentSpec(EnvironmentSpec{
			APIVersion: environmentAPIVersion,
			Kind:       environmentKind,
			Name:       "worker-runtime-lab",
			Selection:  sel,
		}),
		Status: EnvironmentStatus{
			Phase:      envPhaseReconciling,
			UpdatedAt:  now,
			LastOpID:   opID,
			LastOpKind: string(kind),
			Message:    "queued",
		},
	}
	if err := store.PutEnvironment(context.Background(), env); err != nil {
		t.Fatalf("put environment: %v", err)
	}
	op := Operation{
		ID:            opID,
		Kind:          kind,
		EnvironmentID: envID,
		Requested:     now,
		Finished:      time.Time{},
		Status:        opStatusQueued,
		Error:         "",
		Steps:         []OpStep{},
	}
	if err := store.PutOp(context.Background(), op); err != nil {
		t.Fatalf("put operation: %v", err)
	}
}

func TestWorkers_MarkOpStepStartSkipsDuplicateOpenStep(t *testing.T) {
	fixture := newWorkerRuntimeFixture(t)
	defer fixture.close()

	opID := "op-step-idempotent-1"
	envID := "env-step-idempotent-1"
	putWorkerRuntimeEnvAndOp(t, fixture.store, envID, opID, OpSynthesize, Selection{
		Profile:             ProfileMinimal,
		Shell:               ShellBash,
		Tools:               nil,
		SecurityTools:       nil,
		Features:            nil,
		ExtensionCategories: nil,
	})

	start := time.Now().UTC()
	for range 2 {
		err := markOpStepStart(
			context.Background(),
			fixture.store,
			opID,
			"composer",
			start,
			"compose devcontainer manifest and build plan",
		)
		if err != nil {
			t.Fatalf("mark step start: %v", err)
		}
	}

	op, err := fixture.store.GetOp(context.Background(), opID)
	if err != nil {
		t.Fatalf("get op: %v", err)
	}
	if len(op.Steps) != 1 {
		t.Fatalf("expected one open composer step after redelivered start, got %d", len(op.Steps))
	}
	if op.Status != opStatusRunning {
		t.Fatalf("expected op status %q, got %q", opStatusRunning, op.Status)
	}
	if op.Steps[0].Message != "compose devcontainer manifest and build plan" {
		t.Fatalf("unexpected step message %q", op.Steps[0].Message)
	}

	endErr := markOpStepEnd(
		context.Background(),
		fixture.store,
		opID,
		"composer",
		time.Now().UTC(),
		"composed devcontainer with custom build",
		"",
		[]string{"devcontainer/devcontainer.json"},
	)
	if endErr != nil {
		t.Fatalf("mark step end: %v", endErr)
	}
	err = markOpStepStart(
		context.Background(),
		fixture.store,
		opID,
		"composer",
		time.Now().UTC(),
		"compose devcontainer manifest and build plan",
	)
	if err != nil {
		t.Fatalf("mark step start after close: %v", err)
	}

	op, err = fixture.store.GetOp(context.Background(), opID)
	if err != nil {
		t.Fatalf("get op after reopen: %v", err)
	}
	if len(op.Steps) != 2 {
		t.Fatalf("expected closed step plus a fresh one, got %d steps", len(op.Steps))
	}
	if op.Steps[0].EndedAt.IsZero() {
		t.Fatal("expected first composer step to stay closed")
	}
	if !op.Steps[1].EndedAt.IsZero() {
		t.Fatal("expected second composer step to be open")
	}
}

func TestWorkers_BookkeepingEmitsSingleTerminalEventPerFailureState(t *testing.T) {
	fixture := newWorkerRuntimeFixture(t)
	defer fixture.close()

	hub := newOpEventHub(opEventsHistoryLimit, opEventsRetention)
	fixture.store.setOpEvents(hub)

	opID := "op-worker-events-1"
	envID := "env-worker-events-1"
	putWorkerRuntimeEnvAndOp(t, fixture.store, envID, opID, OpSynthesize, Selection{
		Profile:             ProfileAuditor,
		Shell:               ShellBash,
		Tools:               nil,
		SecurityTools:       nil,
		Features:            []FeatureID{FeatureDocker},
		ExtensionCategories: nil,
	})

	failure := "strict validation: rule HARD-001: auditor profile cannot grant docker"
	err := markOpStepStart(
		context.Background(),
		fixture.store,
		opID,
		"validator",
		time.Now().UTC(),
		"evaluate selection against policy rules",
	)
	if err != nil {
		t.Fatalf("mark step start: %v", err)
	}
	err = finalizeOp(context.Background(), fixture.store, opID, envID, OpSynthesize, opStatusError, failure)
	if err != nil {
		t.Fatalf("finalize op error: %v", err)
	}
	err = markOpStepEnd(
		context.Background(),
		fixture.store,
		opID,
		"validator",
		time.Now().UTC(),
		"",
		failure,
		nil,
	)
	if err != nil {
		t.Fatalf("mark step end: %v", err)
	}

	hub.mu.Lock()
	stream := hub.streams[opID]
	records := append([]opEventRecord(nil), stream.records...)
	hub.mu.Unlock()

	failedEvents := 0
	for _, record := range records {
		if record.Name == opEventFailed {
			failedEvents++
		}
	}
	if failedEvents != 1 {
		t.Fatalf("expected exactly one %q event, got %d", opEventFailed, failedEvents)
	}

	env, err := fixture.store.GetEnvironment(context.Background(), envID)
	if err != nil {
		t.Fatalf("get environment: %v", err)
	}
	if env.Status.Phase != envPhaseError {
		t.Fatalf("expected environment phase %q, got %q", envPhaseError, env.Status.Phase)
	}
	if env.Status.Message != failure {
		t.Fatalf("expected environment message %q, got %q", failure, env.Status.Message)
	}
}

func TestWorkers_FinalWaiterReceivesPublishedFinalResult(t *testing.T) {
	fixture := newWorkerRuntimeFixture(t)
	defer fixture.close()

	waiters := newWaiterHub()
	subs, err := subscribeFinalResults(fixture.nc, waiters)
	if err != nil {
		t.Fatalf("subscribe final results: %v", err)
	}
	defer func() {
		for _, sub := range subs {
			_ = sub.Unsubscribe()
		}
	}()
	if flushErr := fixture.nc.Flush(); flushErr != nil {
		t.Fatalf("flush subscriptions: %v", flushErr)
	}

	opID := "op-final-waiter-1"
	ch := waiters.register(opID)
	defer waiters.unregister(opID)

	msg := EnvOpMsg{
		OpID:          opID,
		Kind:          OpSynthesize,
		EnvironmentID: "env-final-waiter-1",
		Selection: Selection{
			Profile:             ProfileHardened,
			Shell:               ShellZsh,
			Tools:               []ToolID{ToolSolidity},
			SecurityTools:       []SecurityToolID{SecToolStaticAnalysis},
			Features:            []FeatureID{FeatureGit},
			ExtensionCategories: nil,
		},
		Err: "",
		At:  time.Now().UTC(),
	}
	res := finalizeWorkerResult(
		msg,
		"scaffolder",
		newWorkerResultMsg("scaffolded workspace repository with devcontainer assets"),
	)
	res.Artifacts = []string{"repos/workspace/README.md"}

	if publishErr := publishWorkerResult(fixture.nc, subjectScaffoldDone, res); publishErr != nil {
		t.Fatalf("publish final result: %v", publishErr)
	}

	select {
	case got := <-ch:
		if got.OpID != opID {
			t.Fatalf("expected delivered op id %q, got %q", opID, got.OpID)
		}
		if got.Worker != "scaffolder" {
			t.Fatalf("expected delivered worker %q, got %q", "scaffolder", got.Worker)
		}
		if got.Kind != OpSynthesize {
			t.Fatalf("expected delivered kind %q, got %q", OpSynthesize, got.Kind)
		}
		if got.Message != "scaffolded workspace repository with devcontainer assets" {
			t.Fatalf("unexpected delivered message %q", got.Message)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for final waiter delivery")
	}
}

func TestWorkers_SkipResultPropagatesUpstreamError(t *testing.T) {
	msg := EnvOpMsg{
		OpID:          "op-skip-1",
		Kind:          OpUpdate,
		EnvironmentID: "env-skip-1",
		Selection:     zeroSelection(),
		Err:           `invalid selection: unknown tool "cobol"`,
		At:            time.Now().UTC(),
	}

	res := skipWorkerResult(msg, "composer")

	if res.Message != "skipped due to upstream error" {
		t.Fatalf("unexpected skip message %q", res.Message)
	}
	if res.Err != msg.Err {
		t.Fatalf("expected upstream error %q to carry through, got %q", msg.Err, res.Err)
	}
	if res.Worker != "composer" {
		t.Fatalf("expected worker composer, got %q", res.Worker)
	}
	if res.OpID != msg.OpID || res.EnvironmentID != msg.EnvironmentID {
		t.Fatalf("expected op identity to carry through, got op=%q environment=%q", res.OpID, res.EnvironmentID)
	}
	if res.Kind != OpUpdate {
		t.Fatalf("expected kind %q, got %q", OpUpdate, res.Kind)
	}
	if res.At.IsZero() {
		t.Fatal("expected skip result to be stamped with a publish time")
	}
}

func TestWorkers_FinalizeWorkerResultFallsBackToUpstreamError(t *testing.T) {
	msg := EnvOpMsg{
		OpID:          "op-chain-err-1",
		Kind:          OpSynthesize,
		EnvironmentID: "env-chain-err-1",
		Selection:     zeroSelection(),
		Err:           "compose devcontainer: write manifest: permission denied",
		At:            time.Now().UTC(),
	}

	res := finalizeWorkerResult(msg, "verifier", newWorkerResultMsg("verifier worker starting"))
	if res.Err != msg.Err {
		t.Fatalf("expected fallback to upstream error %q, got %q", msg.Err, res.Err)
	}
	if res.Worker != "verifier" {
		t.Fatalf("expected worker verifier, got %q", res.Worker)
	}
	if res.OpID != msg.OpID {
		t.Fatalf("expected op id %q, got %q", msg.OpID, res.OpID)
	}
	if res.At.IsZero() {
		t.Fatal("expected finalized result to be stamped with a publish time")
	}

	failed := newWorkerResultMsg("")
	failed.Err = "structure verification failed: 1 of 5 checks"
	got := finalizeWorkerResult(msg, "verifier", failed)
	if got.Err != failed.Err {
		t.Fatalf("expected worker error %q to win over upstream, got %q", failed.Err, got.Err)
	}
}
