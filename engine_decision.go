package forge

////////////////////////////////////////////////////////////////////////////////
// Custom build decision
////////////////////////////////////////////////////////////////////////////////

// needsCustomBuild decides whether the selection can ride a published image
// or needs its own Dockerfile. Any hardening beyond the secure profile, any
// security tooling, a multi-tool stack, a non-bash shell, a compiler
// toolchain, or a script-shaping feature forces the build.
func needsCustomBuild(sel Selection) bool {
	if sel.Profile == ProfileHardened || sel.Profile == ProfileAuditor {
		return true
	}
	if len(sel.SecurityTools) > 0 {
		return true
	}
	if len(sel.Tools) > 1 {
		return true
	}
	if sel.Shell != ShellBash {
		return true
	}
	if hasAnyTool(sel, ToolFoundry, ToolSolidity, ToolVyper) {
		return true
	}
	if hasFeature(sel, FeaturePackageManagers) || hasFeature(sel, FeatureIPFS) {
		return true
	}
	return false
}
