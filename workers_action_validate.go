package forge

import (
	"context"
	"fmt"
	"strings"
	"time"
)

func validationWorkerActionWithMode(
	ctx context.Context,
	store *Store,
	artifacts ArtifactStore,
	msg EnvOpMsg,
	resolution validationModeResolution,
) (WorkerResultMsg, error) {
	stepStart := time.Now().UTC()
	res := newWorkerResultMsg("validation worker starting")
	_ = markOpStepStart(
		ctx,
		store,
		msg.OpID,
		"validator",
		stepStart,
		"evaluate selection against policy rules",
	)

	sel := normalizeSelection(msg.Selection)
	outcome := newWorkerOutcome()
	var err error

	switch msg.Kind {
	case OpSynthesize, OpUpdate:
		outcome, err = runValidation(artifacts, msg, sel, resolution.effectiveMode)
	case OpDelete:
		outcome = workerOutcome{
			message:   "validation skipped for delete operation",
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
			"validator",
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
		"validator",
		time.Now().UTC(),
		res.Message,
		"",
		res.Artifacts,
	)
	return res, nil
}

func runValidation(
	artifacts ArtifactStore,
	msg EnvOpMsg,
	sel Selection,
	mode validationMode,
) (workerOutcome, error) {
	if err := validateSelection(sel); err != nil {
		return newWorkerOutcome(), fmt.Errorf("invalid selection: %w", err)
	}
	diags := evaluateSelection(sel)
	if diags == nil {
		diags = []Diagnostic{}
	}

	_, _ = artifacts.EnsureEnvDir(msg.EnvironmentID)
	diagnosticsPath, err := artifacts.WriteFile(
		msg.EnvironmentID,
		artifactPathDiagnostics,
		mustJSON(map[string]any{
			"environment_id": msg.EnvironmentID,
			"op_id":          msg.OpID,
			"mode":           mode,
			"errors":         countDiagnostics(diags, SeverityError),
			"warnings":       countDiagnostics(diags, SeverityWarning),
			"infos":          countDiagnostics(diags, SeverityInfo),
			"diagnostics":    diags,
		}),
	)
	if err != nil {
		return newWorkerOutcome(), err
	}
	summaryPath, err := artifacts.WriteFile(
		msg.EnvironmentID,
		artifactPathSummary,
		renderValidationSummary(sel, diags, mode),
	)
	if err != nil {
		return workerOutcome{
			message:   "",
			artifacts: []string{diagnosticsPath},
		}, err
	}

	if mode == validationModeStrict {
		if blocked, found := firstErrorDiagnostic(diags); found {
			return workerOutcome{
				message:   "",
				artifacts: []string{diagnosticsPath, summaryPath},
			}, fmt.Errorf("strict validation: rule %s: %s", blocked.RuleID, blocked.Message)
		}
	}

	return workerOutcome{
		message: fmt.Sprintf(
			"selection validated: %d errors, %d warnings, %d infos",
			countDiagnostics(diags, SeverityError),
			countDiagnostics(diags, SeverityWarning),
			countDiagnostics(diags, SeverityInfo),
		),
		artifacts: []string{diagnosticsPath, summaryPath},
	}, nil
}

func renderValidationSummary(sel Selection, diags []Diagnostic, mode validationMode) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "selection validation (profile: %s, mode: %s)\n", sel.Profile, mode)
	fmt.Fprintf(
		&b,
		"errors=%d warnings=%d infos=%d\n",
		countDiagnostics(diags, SeverityError),
		countDiagnostics(diags, SeverityWarning),
		countDiagnostics(diags, SeverityInfo),
	)
	if len(diags) == 0 {
		b.WriteString("no findings\n")
		return []byte(b.String())
	}
	b.WriteString("\n")
	for _, d := range diags {
		fmt.Fprintf(&b, "%-7s %s: %s\n", d.Severity, d.RuleID, d.Message)
	}
	return []byte(b.String())
}
