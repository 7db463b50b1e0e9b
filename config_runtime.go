package forge

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

////////////////////////////////////////////////////////////////////////////////
// Runtime defaults and tunables
////////////////////////////////////////////////////////////////////////////////

type validationMode string

const (
	artifactsRootEnv       = "DEVFORGE_ARTIFACTS_ROOT"
	legacyArtifactsRoot    = defaultArtifactsRoot
	artifactsAppFolderName = "devforge"
	validationModeEnv      = "DEVFORGE_VALIDATION_MODE"
	natsStoreDirEnv        = "DEVFORGE_NATS_STORE_DIR"

	defaultNATSStoreDir       = "./data/nats"
	natsStoreDirModeTemp      = "temp"
	natsStoreDirModeEphemeral = "ephemeral"

	// Advisory mode surfaces error diagnostics without blocking synthesis.
	// Strict mode fails the validation step on the first error diagnostic.
	validationModeAdvisory validationMode = "advisory"
	validationModeStrict   validationMode = "strict"

	opEventsRetention         = 30 * time.Minute
	opEventsHeartbeatInterval = 10 * time.Second
	opEventsHistoryLimit      = 256
	opEventArtifactsLimit     = 8
	envOpsDefaultLimit        = 20
	envOpsMaxLimit            = 100
	envOpsHistoryCap          = 200
	envRevisionsDefaultLimit  = 20
	envRevisionsMaxLimit      = 100
	envRevisionsHistoryCap    = 200

	envOpsBackfillDefaultScanLimit = 500
	envOpsBackfillMaxScanLimit     = 2000
)

type validationModeResolution struct {
	requestedMode     validationMode
	requestedExplicit bool
	effectiveMode     validationMode
	requestedWarning  string
}

func parseValidationMode(raw string) (validationMode, error) {
	mode := strings.TrimSpace(strings.ToLower(raw))
	switch mode {
	case "":
		return validationModeAdvisory, nil
	case string(validationModeAdvisory):
		return validationModeAdvisory, nil
	case string(validationModeStrict):
		return validationModeStrict, nil
	default:
		return validationModeAdvisory, fmt.Errorf(
			"invalid %s=%q (expected %s or %s)",
			validationModeEnv,
			raw,
			validationModeAdvisory,
			validationModeStrict,
		)
	}
}

func validationModeRequestFromEnv() (validationMode, bool, error) {
	raw, exists := os.LookupEnv(validationModeEnv)
	mode, err := parseValidationMode(raw)
	return mode, exists && strings.TrimSpace(raw) != "", err
}

func resolveValidationMode() validationModeResolution {
	requestedMode, requestedExplicit, parseErr := validationModeRequestFromEnv()
	return resolveValidationModeRaw(requestedMode, requestedExplicit, parseErr)
}

func resolveValidationModeRaw(
	requestedMode validationMode,
	requestedExplicit bool,
	parseErr error,
) validationModeResolution {
	resolution := validationModeResolution{
		requestedMode:     requestedMode,
		requestedExplicit: requestedExplicit,
		effectiveMode:     requestedMode,
		requestedWarning:  "",
	}
	if parseErr != nil {
		resolution.requestedWarning = parseErr.Error()
		resolution.effectiveMode = validationModeAdvisory
	}
	return resolution
}

type natsStoreDirResolution struct {
	storeDir    string
	isEphemeral bool
}

type artifactsRootResolution struct {
	root       string
	fromEnv    bool
	legacyRoot string
}

func resolveArtifactsRoot() artifactsRootResolution {
	raw, exists := os.LookupEnv(artifactsRootEnv)
	homeDir, _ := os.UserHomeDir()
	return resolveArtifactsRootRaw(runtime.GOOS, raw, exists, homeDir, os.Getenv("XDG_STATE_HOME"))
}

func resolveArtifactsRootRaw(
	goos string,
	raw string,
	exists bool,
	homeDir string,
	xdgStateHome string,
) artifactsRootResolution {
	if exists {
		trimmed := strings.TrimSpace(raw)
		if trimmed != "" {
			return artifactsRootResolution{
				root:       trimmed,
				fromEnv:    true,
				legacyRoot: legacyArtifactsRoot,
			}
		}
	}
	return artifactsRootResolution{
		root:       defaultArtifactsRootForOS(goos, homeDir, xdgStateHome),
		fromEnv:    false,
		legacyRoot: legacyArtifactsRoot,
	}
}

func defaultArtifactsRootForOS(goos string, homeDir string, xdgStateHome string) string {
	switch goos {
	case "darwin":
		if strings.TrimSpace(homeDir) != "" {
			return filepath.Join(
				homeDir,
				"Library",
				"Application Support",
				artifactsAppFolderName,
				"artifacts",
			)
		}
	case "linux":
		stateRoot := strings.TrimSpace(xdgStateHome)
		if stateRoot == "" && strings.TrimSpace(homeDir) != "" {
			stateRoot = filepath.Join(homeDir, ".local", "state")
		}
		if stateRoot != "" {
			return filepath.Join(stateRoot, artifactsAppFolderName, "artifacts")
		}
	}
	if strings.TrimSpace(homeDir) != "" {
		return filepath.Join(homeDir, ".local", "state", artifactsAppFolderName, "artifacts")
	}
	return legacyArtifactsRoot
}

func shouldLogLegacyArtifactsMigrationNotice(res artifactsRootResolution) bool {
	if res.fromEnv || sameFilesystemPath(res.root, res.legacyRoot) {
		return false
	}
	legacyExists, legacyErr := dirExists(res.legacyRoot)
	if legacyErr != nil || !legacyExists {
		return false
	}
	rootEmpty, rootErr := dirEmptyOrMissing(res.root)
	if rootErr != nil {
		return false
	}
	return rootEmpty
}

func dirExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

func dirEmptyOrMissing(path string) (bool, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return true, nil
		}
		return false, err
	}
	return len(entries) == 0, nil
}

func sameFilesystemPath(a string, b string) bool {
	aAbs, aErr := filepath.Abs(a)
	bAbs, bErr := filepath.Abs(b)
	if aErr != nil || bErr != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return filepath.Clean(aAbs) == filepath.Clean(bAbs)
}

func resolveNATSStoreDir() natsStoreDirResolution {
	raw, exists := os.LookupEnv(natsStoreDirEnv)
	return resolveNATSStoreDirRaw(raw, exists)
}

func resolveNATSStoreDirRaw(raw string, exists bool) natsStoreDirResolution {
	if !exists {
		return natsStoreDirResolution{
			storeDir:    defaultNATSStoreDir,
			isEphemeral: false,
		}
	}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return natsStoreDirResolution{
			storeDir:    defaultNATSStoreDir,
			isEphemeral: false,
		}
	}
	switch strings.ToLower(trimmed) {
	case natsStoreDirModeTemp, natsStoreDirModeEphemeral:
		return natsStoreDirResolution{
			storeDir:    "",
			isEphemeral: true,
		}
	default:
		return natsStoreDirResolution{
			storeDir:    trimmed,
			isEphemeral: false,
		}
	}
}
