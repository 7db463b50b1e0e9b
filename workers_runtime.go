package forge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

////////////////////////////////////////////////////////////////////////////////
// Workers (validate -> compose -> verify -> scaffold)
////////////////////////////////////////////////////////////////////////////////

type Worker interface {
	Start(ctx context.Context) error
}

type WorkerBase struct {
	name       string
	natsURL    string
	subjectIn  string
	subjectOut string
	artifacts  ArtifactStore
	opEvents   *opEventHub
}

func newWorkerBase(
	name, natsURL, subjectIn, subjectOut string,
	artifacts ArtifactStore,
	opEvents *opEventHub,
) WorkerBase {
	return WorkerBase{
		name:       name,
		natsURL:    natsURL,
		subjectIn:  subjectIn,
		subjectOut: subjectOut,
		artifacts:  artifacts,
		opEvents:   opEvents,
	}
}

type (
	ValidationWorker struct {
		WorkerBase

		modeResolution validationModeResolution
	}
	ComposerWorker   struct{ WorkerBase }
	VerifierWorker   struct{ WorkerBase }
	ScaffolderWorker struct{ WorkerBase }
)

func NewValidationWorker(
	natsURL string,
	artifacts ArtifactStore,
	opEvents *opEventHub,
	modeResolution validationModeResolution,
) *ValidationWorker {
	return &ValidationWorker{
		WorkerBase: newWorkerBase(
			"validator",
			natsURL,
			subjectEnvOpStart,
			subjectValidationDone,
			artifacts,
			opEvents,
		),
		modeResolution: modeResolution,
	}
}

func NewComposerWorker(
	natsURL string,
	artifacts ArtifactStore,
	opEvents *opEventHub,
) *ComposerWorker {
	return &ComposerWorker{
		WorkerBase: newWorkerBase(
			"composer",
			natsURL,
			subjectValidationDone,
			subjectComposeDone,
			artifacts,
			opEvents,
		),
	}
}

func NewVerifierWorker(
	natsURL string,
	artifacts ArtifactStore,
	opEvents *opEventHub,
) *VerifierWorker {
	return &VerifierWorker{
		WorkerBase: newWorkerBase(
			"verifier",
			natsURL,
			subjectComposeDone,
			subjectVerifyDone,
			artifacts,
			opEvents,
		),
	}
}

func NewScaffolderWorker(
	natsURL string,
	artifacts ArtifactStore,
	opEvents *opEventHub,
) *ScaffolderWorker {
	return &ScaffolderWorker{
		WorkerBase: newWorkerBase(
			"scaffolder",
			natsURL,
			subjectVerifyDone,
			subjectScaffoldDone,
			artifacts,
			opEvents,
		),
	}
}

func (w *ValidationWorker) Start(ctx context.Context) error {
	return startWorker(
		ctx,
		w.name,
		w.natsURL,
		w.subjectIn,
		w.subjectOut,
		w.artifacts,
		w.opEvents,
		func(
			actionCtx context.Context,
			store *Store,
			artifacts ArtifactStore,
			msg EnvOpMsg,
		) (WorkerResultMsg, error) {
			return validationWorkerActionWithMode(
				actionCtx,
				store,
				artifacts,
				msg,
				w.modeResolution,
			)
		},
	)
}

func (w *ComposerWorker) Start(ctx context.Context) error {
	return startWorker(
		ctx,
		w.name,
		w.natsURL,
		w.subjectIn,
		w.subjectOut,
		w.artifacts,
		w.opEvents,
		composeWorkerAction,
	)
}

func (w *VerifierWorker) Start(ctx context.Context) error {
	return startWorker(
		ctx,
		w.name,
		w.natsURL,
		w.subjectIn,
		w.subjectOut,
		w.artifacts,
		w.opEvents,
		verifyWorkerAction,
	)
}

func (w *ScaffolderWorker) Start(ctx context.Context) error {
	return startWorker(
		ctx,
		w.name,
		w.natsURL,
		w.subjectIn,
		w.subjectOut,
		w.artifacts,
		w.opEvents,
		scaffoldWorkerAction,
	)
}

type workerFn func(ctx context.Context, store *Store, artifacts ArtifactStore, msg EnvOpMsg) (WorkerResultMsg, error)

// startWorker subscribes to one subject (unique per worker), does work, and publishes a result for the next worker.
func startWorker(
	ctx context.Context,
	workerName, natsURL, inSubj, outSubj string,
	artifacts ArtifactStore,
	opEvents *opEventHub,
	fn workerFn,
) error {
	workerLog := appLoggerForProcess().Source(workerName)
	go runWorkerLoop(ctx, workerName, natsURL, inSubj, outSubj, artifacts, opEvents, fn, workerLog)

	return nil
}

func runWorkerLoop(
	ctx context.Context,
	workerName, natsURL, inSubj, outSubj string,
	artifacts ArtifactStore,
	opEvents *opEventHub,
	fn workerFn,
	workerLog sourceLogger,
) {
	nc, err := nats.Connect(natsURL, nats.Name(workerName))
	if err != nil {
		workerLog.Errorf("connect error: %v", err)
		return
	}
	defer func() {
		if drainErr := nc.Drain(); drainErr != nil {
			workerLog.Warnf("drain error: %v", drainErr)
		}
	}()

	js, err := jetstream.New(nc)
	if err != nil {
		workerLog.Errorf("jetstream error: %v", err)
		return
	}
	store, err := newStore(ctx, js)
	if err != nil {
		workerLog.Errorf("store error: %v", err)
		return
	}
	store.setOpEvents(opEvents)
	workerLog.Infof("ready: subscribe=%s publish=%s", inSubj, outSubj)

	sub, err := nc.Subscribe(inSubj, func(m *nats.Msg) {
		handleWorkerMessage(
			ctx,
			store,
			artifacts,
			workerName,
			inSubj,
			outSubj,
			fn,
			nc,
			m,
			workerLog,
		)
	})
	if err != nil {
		workerLog.Errorf("subscribe error: %v", err)
		return
	}
	defer func() {
		if unSubErr := sub.Unsubscribe(); unSubErr != nil {
			workerLog.Warnf("unsubscribe error: %v", unSubErr)
		}
	}()

	_ = nc.Flush()
	<-ctx.Done()
}

func handleWorkerMessage(
	ctx context.Context,
	store *Store,
	artifacts ArtifactStore,
	workerName, inSubj, outSubj string,
	fn workerFn,
	nc *nats.Conn,
	m *nats.Msg,
	workerLog sourceLogger,
) {
	var opMsg EnvOpMsg
	unmarshalErr := json.Unmarshal(m.Data, &opMsg)
	if unmarshalErr != nil {
		workerLog.Warnf("discarding invalid message on %s: %v", inSubj, unmarshalErr)
		return
	}
	if opMsg.Err != "" {
		workerLog.Warnf("skip op=%s due to upstream error: %s", opMsg.OpID, opMsg.Err)
		publishErr := publishWorkerResult(nc, outSubj, skipWorkerResult(opMsg, workerName))
		if publishErr != nil {
			workerLog.Errorf(
				"publish result failed op=%s subject=%s: %v",
				opMsg.OpID,
				outSubj,
				publishErr,
			)
		}
		return
	}

	workerLog.Infof("start op=%s kind=%s environment=%s", opMsg.OpID, opMsg.Kind, opMsg.EnvironmentID)
	res, workerErr := fn(ctx, store, artifacts, opMsg)
	if workerErr != nil {
		res.Err = workerErr.Error()
		workerLog.Errorf("op=%s failed: %v", opMsg.OpID, workerErr)
	} else {
		workerLog.Infof("done op=%s message=%q artifacts=%d", opMsg.OpID, res.Message, len(res.Artifacts))
	}
	publishErr := publishWorkerResult(nc, outSubj, finalizeWorkerResult(opMsg, workerName, res))
	if publishErr != nil {
		workerLog.Errorf(
			"publish result failed op=%s subject=%s: %v",
			opMsg.OpID,
			outSubj,
			publishErr,
		)
	}
}

func skipWorkerResult(opMsg EnvOpMsg, workerName string) WorkerResultMsg {
	res := newWorkerResultMsg("skipped due to upstream error")
	res.OpID = opMsg.OpID
	res.Kind = opMsg.Kind
	res.EnvironmentID = opMsg.EnvironmentID
	res.Selection = opMsg.Selection
	res.Worker = workerName
	res.Err = opMsg.Err
	res.At = time.Now().UTC()
	return res
}

func finalizeWorkerResult(
	opMsg EnvOpMsg,
	workerName string,
	res WorkerResultMsg,
) WorkerResultMsg {
	res.Worker = workerName
	res.OpID = opMsg.OpID
	res.Kind = opMsg.Kind
	res.EnvironmentID = opMsg.EnvironmentID
	res.Selection = opMsg.Selection
	if res.Err == "" {
		res.Err = opMsg.Err
	}
	res.At = time.Now().UTC()
	return res
}

func publishWorkerResult(nc *nats.Conn, subject string, res WorkerResultMsg) error {
	body, _ := json.Marshal(res)
	return nc.Publish(subject, body)
}
