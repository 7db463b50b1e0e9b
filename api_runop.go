package forge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

func (a *API) runOp(
	ctx context.Context,
	kind OperationKind,
	envID string,
	sel Selection,
) (Operation, WorkerResultMsg, error) {
	apiLog := appLoggerForProcess().Source("api")
	opID := newID()
	now := time.Now().UTC()

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
	if err := a.store.PutOp(ctx, op); err != nil {
		return Operation{}, WorkerResultMsg{}, fmt.Errorf("persist op: %w", err)
	}
	apiLog.Infof("queued op=%s kind=%s environment=%s", opID, kind, envID)
	emitOpBootstrap(a.opEvents, op, "operation accepted and queued")

	if kind != OpDelete {
		a.setQueuedEnvironmentStatus(ctx, opID, kind, envID, sel, now)
	} else {
		_ = finalizeOp(ctx, a.store, opID, envID, kind, opStatusRunning, "")
	}

	ch := a.waiters.register(opID)
	defer a.waiters.unregister(opID)

	opMsg := newEnvOpMsg(opID, kind, envID, sel, now)
	body, _ := json.Marshal(opMsg)

	finalizeCtx := context.WithoutCancel(ctx)
	if err := a.nc.Publish(subjectEnvOpStart, body); err != nil {
		_ = finalizeOp(finalizeCtx, a.store, opID, envID, kind, opStatusError, err.Error())
		apiLog.Errorf("publish failed op=%s kind=%s environment=%s: %v", opID, kind, envID, err)
		return Operation{}, WorkerResultMsg{}, fmt.Errorf("publish op: %w", err)
	}
	apiLog.Debugf("published op=%s subject=%s", opID, subjectEnvOpStart)

	waitCtx, cancel := context.WithTimeout(ctx, apiWaitTimeout)
	defer cancel()

	var final WorkerResultMsg
	select {
	case <-waitCtx.Done():
		_ = finalizeOp(
			finalizeCtx,
			a.store,
			opID,
			envID,
			kind,
			opStatusError,
			"timeout waiting for workers",
		)
		apiLog.Errorf("timeout op=%s kind=%s environment=%s", opID, kind, envID)
		return Operation{}, WorkerResultMsg{}, errors.New("timeout waiting for workers")
	case final = <-ch:
	}

	if final.Err != "" {
		_ = finalizeOp(finalizeCtx, a.store, opID, envID, kind, opStatusError, final.Err)
		apiLog.Errorf("op=%s failed in %s: %s", opID, final.Worker, final.Err)
		return Operation{}, final, errors.New(final.Err)
	}

	op, _ = a.store.GetOp(ctx, opID)
	apiLog.Infof("completed op=%s kind=%s environment=%s", opID, kind, envID)
	return op, final, nil
}

func (a *API) setQueuedEnvironmentStatus(
	ctx context.Context,
	opID string,
	kind OperationKind,
	envID string,
	sel Selection,
	now time.Time,
) {
	env, err := a.store.GetEnvironment(ctx, envID)
	if err != nil {
		return
	}
	env.Spec.Selection = sel
	env.Status = EnvironmentStatus{
		Phase:      envPhaseReconciling,
		UpdatedAt:  now,
		LastOpID:   opID,
		LastOpKind: string(kind),
		Message:    queuedEnvironmentMessage(kind),
	}
	_ = a.store.PutEnvironment(ctx, env)
}

func queuedEnvironmentMessage(kind OperationKind) string {
	switch kind {
	case OpSynthesize:
		return "queued synthesis"
	case OpUpdate:
		return "queued update"
	case OpDelete:
		return "queued delete"
	default:
		return opStatusQueued
	}
}

func newEnvOpMsg(
	opID string,
	kind OperationKind,
	envID string,
	sel Selection,
	now time.Time,
) EnvOpMsg {
	return EnvOpMsg{
		OpID:          opID,
		Kind:          kind,
		EnvironmentID: envID,
		Selection:     sel,
		Err:           "",
		At:            now,
	}
}
