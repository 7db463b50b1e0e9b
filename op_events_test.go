//nolint:testpackage,exhaustruct // Event-hub tests validate unexported replay and retention behavior with concise fixtures.
package forge

import (
	"strings"
	"testing"
	"time"
)

func newTestOpEventPayload(opID string, status string) opEventPayload {
	return opEventPayload{
		EventID:         "",
		Sequence:        0,
		OpID:            opID,
		EnvironmentID:   "env-1",
		Kind:            OpSynthesize,
		Status:          status,
		At:              time.Now().UTC(),
		Worker:          "",
		StepIndex:       0,
		TotalSteps:      opTotalStepsFullChain,
		ProgressPercent: 0,
		DurationMS:      0,
		Message:         "",
		Error:           "",
		Artifacts:       nil,
		Hint:            "",
	}
}

func TestOpEventHubReplayAndTrim(t *testing.T) {
	t.Parallel()

	hub := newOpEventHub(3, time.Minute)
	for range 4 {
		hub.publish(opEventStatus, newTestOpEventPayload("op-1", opStatusRunning))
	}

	replay, ch, needsBootstrap, unsubscribe := hub.subscribe("op-1", "2")
	defer unsubscribe()
	if ch == nil {
		t.Fatalf("subscribe returned nil channel")
	}
	if needsBootstrap {
		t.Fatalf("in-window Last-Event-ID must not require a bootstrap")
	}
	if len(replay) != 2 {
		t.Fatalf("replay len = %d, want 2", len(replay))
	}
	if replay[0].Payload.Sequence != 3 || replay[1].Payload.Sequence != 4 {
		t.Fatalf("replay sequences = %d,%d, want 3,4",
			replay[0].Payload.Sequence, replay[1].Payload.Sequence)
	}
	if replay[0].Payload.EventID != "3" {
		t.Fatalf("event id = %q, want 3", replay[0].Payload.EventID)
	}
}

func TestOpEventHubOutOfRangeRequiresBootstrap(t *testing.T) {
	t.Parallel()

	hub := newOpEventHub(2, time.Minute)
	for range 3 {
		hub.publish(opEventStatus, newTestOpEventPayload("op-1", opStatusRunning))
	}

	// History holds sequences 2..3 now; 0 predates the window.
	replay, _, needsBootstrap, unsubscribe := hub.subscribe("op-1", "0")
	defer unsubscribe()
	if !needsBootstrap {
		t.Fatalf("expired Last-Event-ID must force a bootstrap")
	}
	if len(replay) != 0 {
		t.Fatalf("bootstrap path should carry no replay, got %d records", len(replay))
	}
}

func TestOpEventHubFreshSubscriberNeedsBootstrap(t *testing.T) {
	t.Parallel()

	hub := newOpEventHub(8, time.Minute)
	hub.publish(opEventStatus, newTestOpEventPayload("op-1", opStatusRunning))

	replay, _, needsBootstrap, unsubscribe := hub.subscribe("op-1", "")
	defer unsubscribe()
	if !needsBootstrap {
		t.Fatalf("subscriber without Last-Event-ID must bootstrap")
	}
	if len(replay) != 0 {
		t.Fatalf("fresh subscriber should get no replay, got %d", len(replay))
	}

	replay, _, needsBootstrap, unsubscribe2 := hub.subscribe("op-1", "not-a-number")
	defer unsubscribe2()
	if !needsBootstrap || len(replay) != 0 {
		t.Fatalf("unparseable Last-Event-ID must bootstrap, got replay=%d bootstrap=%v",
			len(replay), needsBootstrap)
	}
}

func TestOpEventHubFanout(t *testing.T) {
	t.Parallel()

	hub := newOpEventHub(8, time.Minute)
	_, ch, _, unsubscribe := hub.subscribe("op-1", "")
	defer unsubscribe()

	hub.publish(opEventStatus, newTestOpEventPayload("op-1", opStatusRunning))

	select {
	case record := <-ch:
		if record.Name != opEventStatus {
			t.Fatalf("event name = %q, want %q", record.Name, opEventStatus)
		}
		if record.Payload.Sequence != 1 {
			t.Fatalf("sequence = %d, want 1", record.Payload.Sequence)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for fanout")
	}
}

func TestOpEventHubTerminalTTLPrune(t *testing.T) {
	t.Parallel()

	hub := newOpEventHub(8, 25*time.Millisecond)
	done := newTestOpEventPayload("op-1", opStatusDone)
	hub.publish(opEventCompleted, done)
	if hub.latestSequence("op-1") != 1 {
		t.Fatalf("sequence before prune = %d, want 1", hub.latestSequence("op-1"))
	}

	time.Sleep(50 * time.Millisecond)

	// Publishing on another stream runs the cleanup sweep.
	hub.publish(opEventStatus, newTestOpEventPayload("op-2", opStatusRunning))

	if got := hub.latestSequence("op-1"); got != 0 {
		t.Fatalf("terminal stream should be pruned after TTL, sequence = %d", got)
	}
	if got := hub.latestSequence("op-2"); got != 1 {
		t.Fatalf("live stream must survive the sweep, sequence = %d", got)
	}
}

func TestOpEventHubNilSafe(t *testing.T) {
	t.Parallel()

	var hub *opEventHub
	hub.publish(opEventStatus, newTestOpEventPayload("op-1", opStatusRunning))
	if hub.latestSequence("op-1") != 0 {
		t.Fatalf("nil hub sequence should be 0")
	}
	if hub.replayWindow() != 0 {
		t.Fatalf("nil hub replay window should be 0")
	}
	replay, ch, needsBootstrap, unsubscribe := hub.subscribe("op-1", "")
	if replay != nil || ch != nil || !needsBootstrap {
		t.Fatalf("nil hub subscribe should degrade to bootstrap")
	}
	unsubscribe()
}

func TestOpEventsComputeReplayWindowEdges(t *testing.T) {
	t.Parallel()

	records := []opEventRecord{
		{Name: opEventStatus, Payload: opEventPayload{Sequence: 5}},
		{Name: opEventStatus, Payload: opEventPayload{Sequence: 6}},
		{Name: opEventStatus, Payload: opEventPayload{Sequence: 7}},
	}

	// Exactly at oldest-1 replays the whole window.
	replay, needsBootstrap := computeOpEventReplay(records, "4")
	if needsBootstrap || len(replay) != 3 {
		t.Fatalf("oldest-1 should replay all, got %d bootstrap=%v", len(replay), needsBootstrap)
	}

	// Caught up to newest replays nothing but needs no bootstrap.
	replay, needsBootstrap = computeOpEventReplay(records, "7")
	if needsBootstrap || len(replay) != 0 {
		t.Fatalf("caught-up subscriber should replay nothing, got %d bootstrap=%v",
			len(replay), needsBootstrap)
	}

	// Ahead of newest is out of range.
	if _, needsBootstrap = computeOpEventReplay(records, "8"); !needsBootstrap {
		t.Fatalf("sequence ahead of history must bootstrap")
	}

	// Negative sequences never parse.
	if _, needsBootstrap = computeOpEventReplay(records, "-1"); !needsBootstrap {
		t.Fatalf("negative sequence must bootstrap")
	}

	// Empty history always bootstraps.
	if _, needsBootstrap = computeOpEventReplay(nil, "3"); !needsBootstrap {
		t.Fatalf("empty history must bootstrap")
	}
}

func TestOpEventsBootstrapSnapshot(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ended := started.Add(1500 * time.Millisecond)

	op := Operation{
		ID:            "op-1",
		Kind:          OpSynthesize,
		EnvironmentID: "env-1",
		Requested:     started.Add(-time.Second),
		Status:        opStatusRunning,
		Steps: []OpStep{
			{
				Worker:    "validator",
				StartedAt: started,
				EndedAt:   ended,
				Message:   "selection validated: 0 errors, 1 warnings, 0 infos",
				Artifacts: []string{"validation/diagnostics.json"},
			},
		},
	}

	payload := newOpBootstrapSnapshot(op)
	if payload.Worker != "validator" {
		t.Fatalf("worker = %q", payload.Worker)
	}
	if payload.StepIndex != 1 {
		t.Fatalf("step index = %d, want 1", payload.StepIndex)
	}
	if payload.DurationMS != 1500 {
		t.Fatalf("duration = %dms, want 1500", payload.DurationMS)
	}
	if payload.Message != "selection validated: 0 errors, 1 warnings, 0 infos" {
		t.Fatalf("message = %q", payload.Message)
	}
	if payload.TotalSteps != opTotalStepsFullChain {
		t.Fatalf("total steps = %d, want %d", payload.TotalSteps, opTotalStepsFullChain)
	}
	if !payload.At.Equal(ended) {
		t.Fatalf("snapshot time = %v, want step end %v", payload.At, ended)
	}
	if payload.Hint != "" {
		t.Fatalf("healthy snapshot should carry no hint, got %q", payload.Hint)
	}
}

func TestOpEventsBootstrapSnapshotDefaultMessages(t *testing.T) {
	t.Parallel()

	queued := newOpBootstrapSnapshot(Operation{
		ID: "op-1", Kind: OpSynthesize, EnvironmentID: "env-1", Status: opStatusQueued,
	})
	if queued.Message != "operation accepted and queued" {
		t.Fatalf("queued message = %q", queued.Message)
	}

	failed := newOpBootstrapSnapshot(Operation{
		ID: "op-1", Kind: OpSynthesize, EnvironmentID: "env-1",
		Status: opStatusError, Error: "strict validation: rule HARD-001: docker-in-docker cannot run under the auditor profile",
	})
	if failed.Message != opMessageFailed {
		t.Fatalf("failed message = %q", failed.Message)
	}
	if !strings.Contains(failed.Hint, "DEVFORGE_VALIDATION_MODE=advisory") {
		t.Fatalf("strict failure hint should point at advisory mode, got %q", failed.Hint)
	}

	done := newOpBootstrapSnapshot(Operation{
		ID: "op-1", Kind: OpSynthesize, EnvironmentID: "env-1", Status: opStatusDone,
	})
	if done.Message != opMessageDone {
		t.Fatalf("done message = %q", done.Message)
	}
}

func TestOpEventsProgressPercent(t *testing.T) {
	t.Parallel()

	ended := time.Date(2026, 3, 1, 10, 0, 5, 0, time.UTC)

	running := Operation{
		ID: "op-1", Kind: OpSynthesize, Status: opStatusRunning,
		Steps: []OpStep{
			{Worker: "validator", StartedAt: ended.Add(-time.Second), EndedAt: ended},
			{Worker: "composer", StartedAt: ended},
		},
	}
	if got := opProgressPercent(running); got != 25 {
		t.Fatalf("one of four steps done = %d%%, want 25", got)
	}

	queued := Operation{ID: "op-1", Kind: OpSynthesize, Status: opStatusQueued}
	if got := opProgressPercent(queued); got != 0 {
		t.Fatalf("queued progress = %d%%, want 0", got)
	}

	justStarted := Operation{ID: "op-1", Kind: OpSynthesize, Status: opStatusRunning}
	if got := opProgressPercent(justStarted); got != opProgressMin {
		t.Fatalf("running with no finished steps = %d%%, want %d", got, opProgressMin)
	}

	done := Operation{ID: "op-1", Kind: OpSynthesize, Status: opStatusDone}
	if got := opProgressPercent(done); got != opProgressMax {
		t.Fatalf("done progress = %d%%, want %d", got, opProgressMax)
	}

	failedStep := Operation{
		ID: "op-1", Kind: OpSynthesize, Status: opStatusError,
		Steps: []OpStep{
			{Worker: "validator", StartedAt: ended.Add(-time.Second), EndedAt: ended, Error: "boom"},
		},
	}
	if got := opProgressPercent(failedStep); got != opProgressMin {
		t.Fatalf("failed step progress = %d%%, want %d", got, opProgressMin)
	}
}

func TestOpEventsFailureHints(t *testing.T) {
	t.Parallel()

	cases := []struct {
		errMsg  string
		wantSub string
	}{
		{"", "Retry the operation"},
		{"invalid selection: tools must be drawn from", "Fix the selection field"},
		{"strict validation: rule HARD-001: docker", "DEVFORGE_VALIDATION_MODE=advisory"},
		{"timeout waiting for final result", "timed out"},
		{"environment not found", "Refresh environment data"},
		{"disk full", "Inspect artifacts and step details"},
	}
	for _, tc := range cases {
		if got := opFailureHint(tc.errMsg); !strings.Contains(got, tc.wantSub) {
			t.Fatalf("hint for %q = %q, want substring %q", tc.errMsg, got, tc.wantSub)
		}
	}
}

func TestOpEventsHeartbeatPayload(t *testing.T) {
	t.Parallel()

	base := newTestOpEventPayload("op-1", opStatusRunning)
	base.Worker = "composer"
	base.StepIndex = 2
	base.DurationMS = 1200
	base.Artifacts = []string{"devcontainer/devcontainer.json"}

	hb := newOpHeartbeatPayload(base, 7)
	if hb.EventID != "7" || hb.Sequence != 7 {
		t.Fatalf("heartbeat sequence = (%q, %d), want (7, 7)", hb.EventID, hb.Sequence)
	}
	if hb.Message != "stream heartbeat" {
		t.Fatalf("heartbeat message = %q", hb.Message)
	}
	if hb.Worker != "" || hb.StepIndex != 0 || hb.DurationMS != 0 || hb.Artifacts != nil {
		t.Fatalf("heartbeat must clear step fields: %+v", hb)
	}
	if hb.OpID != "op-1" {
		t.Fatalf("heartbeat keeps op identity, got %q", hb.OpID)
	}

	negative := newOpHeartbeatPayload(base, -3)
	if negative.Sequence != 0 || negative.EventID != "0" {
		t.Fatalf("negative sequence should clamp to 0, got (%q, %d)",
			negative.EventID, negative.Sequence)
	}
}

func TestOpEventsBoundedArtifacts(t *testing.T) {
	t.Parallel()

	if got := boundedOpEventArtifacts(nil); got != nil {
		t.Fatalf("nil in, nil out, got %v", got)
	}

	small := []string{"a", "b"}
	got := boundedOpEventArtifacts(small)
	if len(got) != 2 {
		t.Fatalf("small list should pass through, got %v", got)
	}
	got[0] = "mutated"
	if small[0] != "a" {
		t.Fatalf("bounded list must be a copy")
	}

	big := make([]string, opEventArtifactsLimit+4)
	for i := range big {
		big[i] = "artifact"
	}
	if got := boundedOpEventArtifacts(big); len(got) != opEventArtifactsLimit {
		t.Fatalf("oversized list should cap at %d, got %d", opEventArtifactsLimit, len(got))
	}
}
