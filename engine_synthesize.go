package forge

import "fmt"

////////////////////////////////////////////////////////////////////////////////
// Synthesis orchestration
////////////////////////////////////////////////////////////////////////////////

// SynthesisResult carries everything one synthesis run produces. Dockerfile
// is empty exactly when CustomBuild is false and the manifest references a
// published image instead.
type SynthesisResult struct {
	Selection   Selection    `json:"selection"`
	Manifest    Manifest     `json:"manifest"`
	Dockerfile  string       `json:"dockerfile,omitempty"`
	Diagnostics []Diagnostic `json:"diagnostics"`
	CustomBuild bool         `json:"custom_build"`
}

func (r SynthesisResult) ManifestJSON() []byte {
	return mustJSON(r.Manifest)
}

func zeroSynthesisResult() SynthesisResult {
	return SynthesisResult{
		Selection:   zeroSelection(),
		Manifest:    zeroManifest(),
		Dockerfile:  "",
		Diagnostics: nil,
		CustomBuild: false,
	}
}

func zeroManifest() Manifest {
	return Manifest{
		Name:              "",
		Build:             nil,
		Image:             "",
		RunArgs:           nil,
		Mounts:            nil,
		ContainerUser:     "",
		Features:          nil,
		ForwardPorts:      nil,
		ContainerEnv:      nil,
		PostCreateCommand: "",
		Customizations:    nil,
	}
}

// Synthesize turns a selection into its devcontainer artifacts. It is pure:
// equal selections yield byte-identical manifests and build scripts.
// Diagnostics never block here; strict handling belongs to the caller via
// synthesizeWithMode.
func Synthesize(sel Selection) (SynthesisResult, error) {
	return synthesizeWithMode(sel, validationModeAdvisory)
}

func synthesizeWithMode(sel Selection, mode validationMode) (SynthesisResult, error) {
	normalized := normalizeSelection(sel)
	if err := validateSelection(normalized); err != nil {
		return zeroSynthesisResult(), fmt.Errorf("invalid selection: %w", err)
	}

	diags := evaluateSelection(normalized)
	if diags == nil {
		diags = []Diagnostic{}
	}
	if mode == validationModeStrict {
		if blocked, found := firstErrorDiagnostic(diags); found {
			return zeroSynthesisResult(), fmt.Errorf(
				"strict validation: rule %s: %s", blocked.RuleID, blocked.Message)
		}
	}

	customBuild := needsCustomBuild(normalized)
	result := SynthesisResult{
		Selection:   normalized,
		Manifest:    composeManifest(normalized, customBuild),
		Dockerfile:  "",
		Diagnostics: diags,
		CustomBuild: customBuild,
	}
	if customBuild {
		result.Dockerfile = renderBuildScript(normalized, composeBuildScript(normalized))
	}
	return result, nil
}
