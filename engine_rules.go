package forge

////////////////////////////////////////////////////////////////////////////////
// Selection diagnostics
////////////////////////////////////////////////////////////////////////////////

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

type Diagnostic struct {
	RuleID   string   `json:"rule_id"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

type selectionRule struct {
	id       string
	severity Severity
	applies  func(Selection) bool
	message  string
}

// selectionRules is the single source of rule order: diagnostics are emitted
// exactly in declaration order, so appends here are API-visible.
func selectionRules() []selectionRule {
	return []selectionRule{
		{
			id:       "HARD-001",
			severity: SeverityError,
			applies: func(sel Selection) bool {
				return hasFeature(sel, FeatureDocker) && sel.Profile == ProfileAuditor
			},
			message: "docker-in-docker cannot run under the auditor profile: every capability is dropped and the root filesystem is read-only",
		},
		{
			id:       "WARN-001",
			severity: SeverityWarning,
			applies: func(sel Selection) bool {
				return sel.Profile == ProfileAuditor && len(sel.SecurityTools) == 0
			},
			message: "auditor profile without security tooling leaves nothing to audit with; add at least one securityTool",
		},
		{
			id:       "WARN-002",
			severity: SeverityWarning,
			applies: func(sel Selection) bool {
				return sel.Profile == ProfileHardened && len(sel.Tools) > hardenedToolBudget
			},
			message: "hardened profile with more than 3 tools inflates the attack surface the profile is meant to shrink",
		},
		{
			id:       "WARN-003",
			severity: SeverityWarning,
			applies: func(sel Selection) bool {
				return hasTool(sel, ToolHardhat) && hasTool(sel, ToolFoundry)
			},
			message: "hardhat and foundry together duplicate framework tooling; most workflows need only one",
		},
		{
			id:       "WARN-004",
			severity: SeverityWarning,
			applies: func(sel Selection) bool {
				return sel.Profile == ProfileHardened && sel.Shell != ShellBash
			},
			message: "hardened profile expects bash; alternate shells widen the surface the profile restricts",
		},
		{
			id:       "WARN-005",
			severity: SeverityWarning,
			applies: func(sel Selection) bool {
				return hasFeature(sel, FeatureAsdf) && hasFeature(sel, FeatureNvm)
			},
			message: "asdf and nvm overlap as version managers; pick one",
		},
		{
			id:       "WARN-006",
			severity: SeverityWarning,
			applies: func(sel Selection) bool {
				return len(sel.Tools)+len(sel.SecurityTools) > selectionStackBudget
			},
			message: "more than 5 combined tools and security tools makes a heavy image; consider splitting environments",
		},
		{
			id:       "WARN-007",
			severity: SeverityWarning,
			applies: func(sel Selection) bool {
				return hasSecurityTool(sel, SecToolFuzzing) && !hasAnyTool(sel, solidityFamily()...)
			},
			message: "fuzzing tooling without a smart-contract toolchain has no targets; add solidity, vyper, hardhat or foundry",
		},
		{
			id:       "WARN-008",
			severity: SeverityWarning,
			applies: func(sel Selection) bool {
				return hasFeature(sel, FeatureIPFS) && !hasFeature(sel, FeaturePorts)
			},
			message: "ipfs requested without port forwarding; the daemon API and gateway ports will be unreachable",
		},
		{
			id:       "INFO-001",
			severity: SeverityInfo,
			applies: func(sel Selection) bool {
				return hasTool(sel, ToolSolidity) && !hasAnyTool(sel, ToolHardhat, ToolFoundry)
			},
			message: "solidity without hardhat or foundry compiles standalone; a framework adds tests and deployment scripting",
		},
		{
			id:       "INFO-002",
			severity: SeverityInfo,
			applies: func(sel Selection) bool {
				return len(sel.SecurityTools) >= securityToolAdviceMin
			},
			message: "3 or more security tool families selected; expect a large image and a long first build",
		},
		{
			id:       "INFO-003",
			severity: SeverityInfo,
			applies: func(sel Selection) bool {
				return hasTool(sel, ToolRust) && hasFeature(sel, FeatureNvm)
			},
			message: "rust toolchain with nvm selected; nvm only manages node versions",
		},
		{
			id:       "INFO-004",
			severity: SeverityInfo,
			applies: func(sel Selection) bool {
				return hasTool(sel, ToolSolidity) && !hasTool(sel, ToolPython)
			},
			message: "solidity analysis tooling is python-based; adding python eases local scripting",
		},
		{
			id:       "INFO-005",
			severity: SeverityInfo,
			applies: func(sel Selection) bool {
				return hasFeature(sel, FeaturePackageManagers) && !hasTool(sel, ToolNodejs)
			},
			message: "package-managers without nodejs has little to manage; node projects are the main consumer",
		},
	}
}

// evaluateSelection runs every rule in declaration order. Diagnostics are
// advisory by default; whether an error severity blocks synthesis is the
// caller's policy, not the rule set's.
func evaluateSelection(sel Selection) []Diagnostic {
	var diags []Diagnostic
	for _, rule := range selectionRules() {
		if !rule.applies(sel) {
			continue
		}
		diags = append(diags, Diagnostic{
			RuleID:   rule.id,
			Severity: rule.severity,
			Message:  rule.message,
		})
	}
	return diags
}

func countDiagnostics(diags []Diagnostic, severity Severity) int {
	n := 0
	for _, d := range diags {
		if d.Severity == severity {
			n++
		}
	}
	return n
}

func firstErrorDiagnostic(diags []Diagnostic) (Diagnostic, bool) {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return d, true
		}
	}
	return Diagnostic{RuleID: "", Severity: "", Message: ""}, false
}
