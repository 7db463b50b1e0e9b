//nolint:exhaustruct // Selection fixtures only set fields relevant to each test assertion.
package forge_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	forge "github.com/theredguild/devforge"
)

func TestEngine_SynthesizeIsDeterministic(t *testing.T) {
	t.Parallel()

	sel := forge.Selection{
		Profile:             forge.ProfileHardened,
		Shell:               forge.ShellZsh,
		Tools:               []forge.ToolID{forge.ToolSolidity, forge.ToolPython},
		SecurityTools:       []forge.SecurityToolID{forge.SecToolStaticAnalysis, forge.SecToolFuzzing},
		Features:            []forge.FeatureID{forge.FeatureGit, forge.FeaturePorts},
		ExtensionCategories: []forge.ExtensionCategoryID{forge.ExtCategorySolidity, forge.ExtCategorySecurity},
	}

	first, err := forge.Synthesize(sel)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	for range 5 {
		again, err := forge.Synthesize(sel)
		if err != nil {
			t.Fatalf("Synthesize repeat: %v", err)
		}
		if !bytes.Equal(first.ManifestJSON(), again.ManifestJSON()) {
			t.Fatalf("manifest bytes differ across runs:\n%s\n----\n%s",
				first.ManifestJSON(), again.ManifestJSON())
		}
		if first.Dockerfile != again.Dockerfile {
			t.Fatalf("build script differs across runs")
		}
		if len(first.Diagnostics) != len(again.Diagnostics) {
			t.Fatalf("diagnostics differ across runs: %d vs %d",
				len(first.Diagnostics), len(again.Diagnostics))
		}
	}
}

func TestEngine_SynthesizeHardenedSolidityScenario(t *testing.T) {
	t.Parallel()

	res, err := forge.Synthesize(forge.Selection{
		Profile:       forge.ProfileHardened,
		Tools:         []forge.ToolID{forge.ToolSolidity},
		SecurityTools: []forge.SecurityToolID{forge.SecToolStaticAnalysis},
		Features:      []forge.FeatureID{forge.FeatureGit},
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !res.CustomBuild {
		t.Fatalf("hardened solidity stack must build its own image")
	}
	if !strings.Contains(res.Dockerfile, "solc-select") {
		t.Fatalf("solidity tool block missing from build script:\n%s", res.Dockerfile)
	}
	if !strings.Contains(res.Dockerfile, "slither-analyzer") {
		t.Fatalf("static analysis block missing from build script:\n%s", res.Dockerfile)
	}
	if !hasDiagnostic(res.Diagnostics, "INFO-001") {
		t.Fatalf("solidity without a framework should advise one, got %v",
			diagnosticRuleIDs(res.Diagnostics))
	}
	if !hasDiagnostic(res.Diagnostics, "INFO-004") {
		t.Fatalf("solidity without python should advise python, got %v",
			diagnosticRuleIDs(res.Diagnostics))
	}
	for _, d := range res.Diagnostics {
		if d.Severity == forge.SeverityError {
			t.Fatalf("scenario should carry no blocking diagnostic, got %s", d.RuleID)
		}
	}
}

func TestEngine_SynthesizeAuditorDockerScenario(t *testing.T) {
	t.Parallel()

	res, err := forge.Synthesize(forge.Selection{
		Profile:       forge.ProfileAuditor,
		SecurityTools: []forge.SecurityToolID{forge.SecToolForensics},
		Features:      []forge.FeatureID{forge.FeatureDocker},
	})
	if err != nil {
		t.Fatalf("advisory synthesis must not block on diagnostics: %v", err)
	}
	errors := 0
	for _, d := range res.Diagnostics {
		if d.Severity == forge.SeverityError {
			errors++
			if d.RuleID != "HARD-001" {
				t.Fatalf("unexpected error rule %s", d.RuleID)
			}
		}
	}
	if errors != 1 {
		t.Fatalf("auditor with docker must yield exactly one error diagnostic, got %d (%v)",
			errors, diagnosticRuleIDs(res.Diagnostics))
	}
	if !res.CustomBuild {
		t.Fatalf("auditor profile must build its own image")
	}
}

func TestEngine_SynthesizeStrictModeBlocksOnErrorDiagnostic(t *testing.T) {
	t.Parallel()

	_, err := forge.SynthesizeStrictForTest(forge.Selection{
		Profile:  forge.ProfileAuditor,
		Features: []forge.FeatureID{forge.FeatureDocker},
	})
	if err == nil {
		t.Fatalf("strict mode must refuse an error diagnostic")
	}
	if !strings.Contains(err.Error(), "strict validation: rule HARD-001") {
		t.Fatalf("error should name the blocking rule, got %q", err)
	}
}

func TestEngine_SynthesizeStrictModePassesWarnings(t *testing.T) {
	t.Parallel()

	res, err := forge.SynthesizeStrictForTest(forge.Selection{
		Profile: forge.ProfileAuditor,
	})
	if err != nil {
		t.Fatalf("warnings must not block strict synthesis: %v", err)
	}
	if !hasDiagnostic(res.Diagnostics, "WARN-001") {
		t.Fatalf("expected WARN-001 to surface, got %v", diagnosticRuleIDs(res.Diagnostics))
	}
}

func TestEngine_SynthesizeManifestJSONRoundTrips(t *testing.T) {
	t.Parallel()

	res, err := forge.Synthesize(forge.Selection{
		Profile:  forge.ProfileSecure,
		Shell:    forge.ShellZsh,
		Features: []forge.FeatureID{forge.FeatureGit},
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(res.ManifestJSON(), &decoded); err != nil {
		t.Fatalf("manifest json does not parse: %v", err)
	}
	if decoded["name"] != "devsec-secure" {
		t.Fatalf("decoded name = %v", decoded["name"])
	}
	if _, hasBuild := decoded["build"]; !hasBuild {
		t.Fatalf("zsh shell forces a build section, got %s", res.ManifestJSON())
	}
	if _, hasImage := decoded["image"]; hasImage {
		t.Fatalf("build manifests must omit the image key, got %s", res.ManifestJSON())
	}
}
