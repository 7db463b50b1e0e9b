package forge

import (
	"context"
	"errors"
	"net/http"
	"os"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

////////////////////////////////////////////////////////////////////////////////
// Entrypoint
////////////////////////////////////////////////////////////////////////////////

func Run() {
	mainLog := appLoggerForProcess().Source("main")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	modeRes := resolveValidationMode()
	if modeRes.requestedWarning != "" {
		mainLog.Warnf("%s; using %s validation", modeRes.requestedWarning, modeRes.effectiveMode)
	}

	rootRes := resolveArtifactsRoot()
	if shouldLogLegacyArtifactsMigrationNotice(rootRes) {
		mainLog.Warnf(
			"artifacts exist under legacy root %s; new artifacts go to %s (set %s to override)",
			rootRes.legacyRoot,
			rootRes.root,
			artifactsRootEnv,
		)
	}

	storeRes := resolveNATSStoreDir()
	ns, natsURL, jsDir, err := startEmbeddedNATS(storeRes.storeDir)
	if err != nil {
		mainLog.Fatalf("start embedded nats: %v", err)
	}
	defer func() {
		ns.Shutdown()
		ns.WaitForShutdown()
		if storeRes.isEphemeral {
			_ = os.RemoveAll(jsDir)
		}
	}()

	nc, err := nats.Connect(natsURL, nats.Name("api"))
	if err != nil {
		mainLog.Fatalf("connect nats: %v", err)
	}
	defer func() {
		if derr := nc.Drain(); derr != nil {
			mainLog.Warnf("nats drain error: %v", derr)
		}
	}()

	js, err := jetstream.New(nc)
	if err != nil {
		mainLog.Fatalf("jetstream: %v", err)
	}

	store, err := newStore(ctx, js)
	if err != nil {
		mainLog.Fatalf("store: %v", err)
	}

	opEvents := newOpEventHub(opEventsHistoryLimit, opEventsRetention)
	store.setOpEvents(opEvents)

	report, backfillErr := store.backfillEnvOpsIndex(ctx, envOpsBackfillDefaultScanLimit)
	switch {
	case backfillErr != nil:
		mainLog.Warnf("ops index backfill: %v", backfillErr)
	case report.AddedIndexEntries > 0:
		mainLog.Infof(
			"ops index backfill: added %d entries across %d environments (scanned %d ops)",
			report.AddedIndexEntries,
			report.RebuiltEnvs,
			report.ScannedOps,
		)
	}
	if report.Truncated {
		mainLog.Warnf("ops index backfill stopped early after scanning %d ops", report.ScannedOps)
	}

	artifacts := NewFSArtifacts(rootRes.root)
	mkdirErr := os.MkdirAll(rootRes.root, dirModePrivateRead)
	if mkdirErr != nil {
		mainLog.Fatalf("mkdir artifacts root: %v", mkdirErr)
	}

	workers := []Worker{
		NewValidationWorker(natsURL, artifacts, opEvents, modeRes),
		NewComposerWorker(natsURL, artifacts, opEvents),
		NewVerifierWorker(natsURL, artifacts, opEvents),
		NewScaffolderWorker(natsURL, artifacts, opEvents),
	}
	for _, worker := range workers {
		startErr := worker.Start(ctx)
		if startErr != nil {
			mainLog.Fatalf("start worker: %v", startErr)
		}
	}

	waiters := newWaiterHub()
	finalSubs, err := subscribeFinalResults(nc, waiters)
	if err != nil {
		mainLog.Fatalf("subscribe final: %v", err)
	}
	defer func() {
		for _, sub := range finalSubs {
			if uerr := sub.Unsubscribe(); uerr != nil {
				mainLog.Warnf("final subscription unsubscribe error: %v", uerr)
			}
		}
	}()

	flushErr := nc.Flush()
	if flushErr != nil {
		mainLog.Fatalf("flush: %v", flushErr)
	}

	api := &API{
		nc:                  nc,
		store:               store,
		artifacts:           artifacts,
		waiters:             waiters,
		opEvents:            opEvents,
		opHeartbeatInterval: opEventsHeartbeatInterval,
		system: runtimeSystemInfo{
			Version:                 appVersion,
			HTTPAddr:                httpAddr,
			ArtifactsRoot:           rootRes.root,
			ValidationModeRequested: string(modeRes.requestedMode),
			ValidationModeEffective: string(modeRes.effectiveMode),
			ValidationModeReason:    validationModeReasonText(modeRes),
			NATSEmbedded:            true,
			NATSStoreDir:            jsDir,
			NATSStoreEphemeral:      storeRes.isEphemeral,
		},
	}
	srv := &http.Server{
		Addr:              httpAddr,
		Handler:           api.routes(),
		ReadHeaderTimeout: defaultReadHeaderWait,
	}

	mainLog.Infof("NATS: %s", natsURL)
	mainLog.Infof("API: http://%s", httpAddr)
	mainLog.Infof("Artifacts root: %s", rootRes.root)
	mainLog.Infof("Validation mode: %s", modeRes.effectiveMode)

	listenErr := srv.ListenAndServe()
	if listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
		mainLog.Fatalf("http server: %v", listenErr)
	}
}

func validationModeReasonText(res validationModeResolution) string {
	if res.requestedWarning != "" {
		return res.requestedWarning
	}
	if !res.requestedExplicit {
		return "default"
	}
	return ""
}
