package forge

import (
	"fmt"
	"slices"
	"strings"
)

////////////////////////////////////////////////////////////////////////////////
// Selection model
////////////////////////////////////////////////////////////////////////////////

// SecurityProfile selects how aggressively the synthesized container locks
// itself down. Profiles are ordered from most permissive to most restrictive.
type SecurityProfile string

const (
	ProfileMinimal  SecurityProfile = "minimal"
	ProfileSecure   SecurityProfile = "secure"
	ProfileHardened SecurityProfile = "hardened"
	ProfileAuditor  SecurityProfile = "auditor"
)

type ShellKind string

const (
	ShellBash ShellKind = "bash"
	ShellZsh  ShellKind = "zsh"
	ShellFish ShellKind = "fish"
)

type ToolID string

const (
	ToolSolidity ToolID = "solidity"
	ToolVyper    ToolID = "vyper"
	ToolHardhat  ToolID = "hardhat"
	ToolFoundry  ToolID = "foundry"
	ToolNodejs   ToolID = "nodejs"
	ToolPython   ToolID = "python"
	ToolRust     ToolID = "rust"
	ToolGo       ToolID = "go"
)

type SecurityToolID string

const (
	SecToolStaticAnalysis    SecurityToolID = "static-analysis"
	SecToolSymbolicExecution SecurityToolID = "symbolic-execution"
	SecToolFuzzing           SecurityToolID = "fuzzing"
	SecToolDecompilers       SecurityToolID = "decompilers"
	SecToolForensics         SecurityToolID = "forensics"
)

type FeatureID string

const (
	FeatureGit             FeatureID = "git"
	FeatureDocker          FeatureID = "docker"
	FeatureAsdf            FeatureID = "asdf"
	FeatureNvm             FeatureID = "nvm"
	FeaturePackageManagers FeatureID = "package-managers"
	FeatureIPFS            FeatureID = "ipfs"
	FeaturePorts           FeatureID = "ports"
)

type ExtensionCategoryID string

const (
	ExtCategorySolidity  ExtensionCategoryID = "solidity"
	ExtCategorySecurity  ExtensionCategoryID = "security"
	ExtCategoryScripting ExtensionCategoryID = "scripting"
	ExtCategoryGeneral   ExtensionCategoryID = "general"
)

// Selection is the complete user intent a synthesis run starts from. Slice
// order is meaningful: tool and security-tool install blocks follow selection
// order, and extension expansion follows category selection order.
type Selection struct {
	Profile             SecurityProfile       `json:"securityProfile"`
	Shell               ShellKind             `json:"shell"`
	Tools               []ToolID              `json:"tools"`
	SecurityTools       []SecurityToolID      `json:"securityTools"`
	Features            []FeatureID           `json:"features"`
	ExtensionCategories []ExtensionCategoryID `json:"extensionCategories,omitempty"`
}

func allSecurityProfiles() []SecurityProfile {
	return []SecurityProfile{ProfileMinimal, ProfileSecure, ProfileHardened, ProfileAuditor}
}

func allShellKinds() []ShellKind {
	return []ShellKind{ShellBash, ShellZsh, ShellFish}
}

func allToolIDs() []ToolID {
	return []ToolID{
		ToolSolidity, ToolVyper, ToolHardhat, ToolFoundry,
		ToolNodejs, ToolPython, ToolRust, ToolGo,
	}
}

func allSecurityToolIDs() []SecurityToolID {
	return []SecurityToolID{
		SecToolStaticAnalysis, SecToolSymbolicExecution,
		SecToolFuzzing, SecToolDecompilers, SecToolForensics,
	}
}

func allFeatureIDs() []FeatureID {
	return []FeatureID{
		FeatureGit, FeatureDocker, FeatureAsdf, FeatureNvm,
		FeaturePackageManagers, FeatureIPFS, FeaturePorts,
	}
}

func allExtensionCategoryIDs() []ExtensionCategoryID {
	return []ExtensionCategoryID{
		ExtCategorySolidity, ExtCategorySecurity, ExtCategoryScripting, ExtCategoryGeneral,
	}
}

// solidityFamily covers the smart-contract toolchain: compilers and the
// frameworks that wrap them.
func solidityFamily() []ToolID {
	return []ToolID{ToolSolidity, ToolVyper, ToolHardhat, ToolFoundry}
}

// normalizeSelection lowercases and trims every field, fills profile/shell
// defaults when absent, and deduplicates the slices preserving first
// occurrence. It never rejects; rejection is validateSelection's job.
func normalizeSelection(sel Selection) Selection {
	out := sel
	out.Profile = SecurityProfile(strings.ToLower(strings.TrimSpace(string(sel.Profile))))
	if out.Profile == "" {
		out.Profile = ProfileMinimal
	}
	out.Shell = ShellKind(strings.ToLower(strings.TrimSpace(string(sel.Shell))))
	if out.Shell == "" {
		out.Shell = ShellBash
	}
	out.Tools = dedupeIDs(sel.Tools)
	out.SecurityTools = dedupeIDs(sel.SecurityTools)
	out.Features = dedupeIDs(sel.Features)
	out.ExtensionCategories = dedupeIDs(sel.ExtensionCategories)
	return out
}

func dedupeIDs[T ~string](ids []T) []T {
	if len(ids) == 0 {
		return nil
	}
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		cleaned := T(strings.ToLower(strings.TrimSpace(string(id))))
		if cleaned == "" {
			continue
		}
		if !slices.Contains(out, cleaned) {
			out = append(out, cleaned)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// validateSelection enforces the closed enumerations. Unknown identifiers are
// contract violations and fail the whole synthesis; advisory concerns are the
// rule set's job, not this one.
func validateSelection(sel Selection) error {
	if !slices.Contains(allSecurityProfiles(), sel.Profile) {
		return fmt.Errorf("securityProfile must be one of %s (got %q)",
			joinIDs(allSecurityProfiles()), sel.Profile)
	}
	if !slices.Contains(allShellKinds(), sel.Shell) {
		return fmt.Errorf("shell must be one of %s (got %q)",
			joinIDs(allShellKinds()), sel.Shell)
	}
	for _, id := range sel.Tools {
		if !slices.Contains(allToolIDs(), id) {
			return fmt.Errorf("tools must be drawn from %s (got %q)",
				joinIDs(allToolIDs()), id)
		}
	}
	for _, id := range sel.SecurityTools {
		if !slices.Contains(allSecurityToolIDs(), id) {
			return fmt.Errorf("securityTools must be drawn from %s (got %q)",
				joinIDs(allSecurityToolIDs()), id)
		}
	}
	for _, id := range sel.Features {
		if !slices.Contains(allFeatureIDs(), id) {
			return fmt.Errorf("features must be drawn from %s (got %q)",
				joinIDs(allFeatureIDs()), id)
		}
	}
	for _, id := range sel.ExtensionCategories {
		if !slices.Contains(allExtensionCategoryIDs(), id) {
			return fmt.Errorf("extensionCategories must be drawn from %s (got %q)",
				joinIDs(allExtensionCategoryIDs()), id)
		}
	}
	return nil
}

func joinIDs[T ~string](ids []T) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, string(id))
	}
	return strings.Join(parts, "|")
}

func hasTool(sel Selection, id ToolID) bool {
	return slices.Contains(sel.Tools, id)
}

func hasSecurityTool(sel Selection, id SecurityToolID) bool {
	return slices.Contains(sel.SecurityTools, id)
}

func hasFeature(sel Selection, id FeatureID) bool {
	return slices.Contains(sel.Features, id)
}

func hasAnyTool(sel Selection, ids ...ToolID) bool {
	for _, id := range ids {
		if hasTool(sel, id) {
			return true
		}
	}
	return false
}
