package forge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/moby/buildkit/frontend/dockerfile/parser"
)

type structureCheck struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

func verifyWorkerAction(
	ctx context.Context,
	store *Store,
	artifacts ArtifactStore,
	msg EnvOpMsg,
) (WorkerResultMsg, error) {
	stepStart := time.Now().UTC()
	res := newWorkerResultMsg("verifier worker starting")
	_ = markOpStepStart(
		ctx,
		store,
		msg.OpID,
		"verifier",
		stepStart,
		"verify composed devcontainer structure",
	)

	outcome := newWorkerOutcome()
	var err error

	switch msg.Kind {
	case OpSynthesize, OpUpdate:
		outcome, err = runVerify(artifacts, msg)
	case OpDelete:
		outcome = workerOutcome{
			message:   "verification skipped for delete operation",
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
			"verifier",
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
		"verifier",
		time.Now().UTC(),
		res.Message,
		"",
		res.Artifacts,
	)
	return res, nil
}

func runVerify(artifacts ArtifactStore, msg EnvOpMsg) (workerOutcome, error) {
	manifestBody, err := artifacts.ReadFile(msg.EnvironmentID, artifactPathManifest)
	if err != nil {
		return newWorkerOutcome(), fmt.Errorf("read composed manifest: %w", err)
	}

	var manifest Manifest
	checks := []structureCheck{}
	parseErr := json.Unmarshal(manifestBody, &manifest)
	checks = append(checks, structureCheck{
		Name:   "manifest_parses",
		OK:     parseErr == nil,
		Detail: errDetail(parseErr),
	})
	if parseErr == nil {
		checks = append(checks, verifyManifestChecks(manifest)...)
		checks = append(checks, verifyBuildScript(artifacts, msg.EnvironmentID, manifest)...)
	}

	failed := 0
	for _, check := range checks {
		if !check.OK {
			failed++
		}
	}

	reportPath, err := artifacts.WriteFile(
		msg.EnvironmentID,
		artifactPathStructureCheck,
		mustJSON(map[string]any{
			"environment_id": msg.EnvironmentID,
			"op_id":          msg.OpID,
			"verified_at":    time.Now().UTC().Format(time.RFC3339),
			"checks":         checks,
			"failed":         failed,
		}),
	)
	if err != nil {
		return newWorkerOutcome(), err
	}
	if failed > 0 {
		return workerOutcome{
			message:   "",
			artifacts: []string{reportPath},
		}, fmt.Errorf("structure verification failed: %d of %d checks", failed, len(checks))
	}
	return workerOutcome{
		message:   fmt.Sprintf("devcontainer structure verified: %d checks passed", len(checks)),
		artifacts: []string{reportPath},
	}, nil
}

func verifyManifestChecks(manifest Manifest) []structureCheck {
	checks := make([]structureCheck, 0, 3)

	nameOK := strings.HasPrefix(manifest.Name, "devsec-")
	checks = append(checks, structureCheck{
		Name:   "manifest_name",
		OK:     nameOK,
		Detail: detailUnless(nameOK, fmt.Sprintf("unexpected name %q", manifest.Name)),
	})

	hasBuild := manifest.Build != nil
	hasImage := strings.TrimSpace(manifest.Image) != ""
	exactlyOne := hasBuild != hasImage
	checks = append(checks, structureCheck{
		Name:   "build_or_image",
		OK:     exactlyOne,
		Detail: detailUnless(exactlyOne, fmt.Sprintf("build=%t image=%t", hasBuild, hasImage)),
	})

	featuresOK := true
	for uri := range manifest.Features {
		if strings.TrimSpace(uri) == "" {
			featuresOK = false
		}
	}
	checks = append(checks, structureCheck{
		Name:   "features_resolved",
		OK:     featuresOK,
		Detail: detailUnless(featuresOK, "feature with empty URI"),
	})
	return checks
}

func verifyBuildScript(artifacts ArtifactStore, envID string, manifest Manifest) []structureCheck {
	if manifest.Build == nil {
		return nil
	}
	checks := make([]structureCheck, 0, 4)

	body, readErr := artifacts.ReadFile(envID, artifactPathDockerfile)
	checks = append(checks, structureCheck{
		Name:   "dockerfile_present",
		OK:     readErr == nil,
		Detail: errDetail(readErr),
	})
	if readErr != nil {
		return checks
	}

	parsed, parseErr := parser.Parse(bytes.NewReader(body))
	detail := errDetail(parseErr)
	if parseErr == nil {
		detail = fmt.Sprintf("%d instructions", len(parsed.AST.Children))
	}
	checks = append(checks, structureCheck{
		Name:   "dockerfile_parses",
		OK:     parseErr == nil,
		Detail: detail,
	})
	if parseErr != nil {
		return checks
	}

	if requiresPrivilegeDrop(manifest.Name) {
		checks = append(checks, checkPrivilegeDrop(parsed.AST.Children))
	}

	endsInWorkdir := false
	if n := len(parsed.AST.Children); n > 0 {
		endsInWorkdir = strings.EqualFold(parsed.AST.Children[n-1].Value, "workdir")
	}
	checks = append(checks, structureCheck{
		Name:   "dockerfile_ends_in_workdir",
		OK:     endsInWorkdir,
		Detail: detailUnless(endsInWorkdir, "workspace block must be the final instruction group"),
	})
	return checks
}

func requiresPrivilegeDrop(name string) bool {
	return name == "devsec-"+string(ProfileHardened) || name == "devsec-"+string(ProfileAuditor)
}

// checkPrivilegeDrop expects USER devsec immediately before the closing
// WORKDIR, so nothing installs after the drop.
func checkPrivilegeDrop(children []*parser.Node) structureCheck {
	userIdx := -1
	for i, child := range children {
		if strings.EqualFold(child.Value, "user") {
			userIdx = i
		}
	}
	if userIdx < 0 {
		return structureCheck{
			Name:   "dockerfile_user_switch",
			OK:     false,
			Detail: "hardened script has no USER instruction",
		}
	}

	arg := ""
	if children[userIdx].Next != nil {
		arg = children[userIdx].Next.Value
	}
	ok := true
	detail := ""
	switch {
	case arg != unprivilegedBuildUser:
		ok = false
		detail = fmt.Sprintf("USER %s, want %s", arg, unprivilegedBuildUser)
	case userIdx != len(children)-2:
		ok = false
		detail = "instructions follow the privilege drop"
	}
	return structureCheck{
		Name:   "dockerfile_user_switch",
		OK:     ok,
		Detail: detail,
	}
}

func errDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func detailUnless(ok bool, detail string) string {
	if ok {
		return ""
	}
	return detail
}
