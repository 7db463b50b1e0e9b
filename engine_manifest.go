package forge

import "slices"

////////////////////////////////////////////////////////////////////////////////
// Devcontainer manifest composition
////////////////////////////////////////////////////////////////////////////////

type ManifestBuild struct {
	Dockerfile string `json:"dockerfile"`
}

type ManifestVSCode struct {
	Extensions []string `json:"extensions,omitempty"`
}

type ManifestCustomizations struct {
	VSCode ManifestVSCode `json:"vscode"`
}

// Manifest is the devcontainer.json document. Exactly one of Build and Image
// is set, mirroring the custom-build decision.
type Manifest struct {
	Name              string                    `json:"name"`
	Build             *ManifestBuild            `json:"build,omitempty"`
	Image             string                    `json:"image,omitempty"`
	RunArgs           []string                  `json:"runArgs,omitempty"`
	Mounts            []string                  `json:"mounts,omitempty"`
	ContainerUser     string                    `json:"containerUser,omitempty"`
	Features          map[string]map[string]any `json:"features,omitempty"`
	ForwardPorts      []int                     `json:"forwardPorts,omitempty"`
	ContainerEnv      map[string]string         `json:"containerEnv,omitempty"`
	PostCreateCommand string                    `json:"postCreateCommand,omitempty"`
	Customizations    *ManifestCustomizations   `json:"customizations,omitempty"`
}

func composeManifest(sel Selection, customBuild bool) Manifest {
	manifest := Manifest{
		Name:              "devsec-" + string(sel.Profile),
		Build:             nil,
		Image:             "",
		RunArgs:           profileRunArgs(sel.Profile),
		Mounts:            nil,
		ContainerUser:     "",
		Features:          nil,
		ForwardPorts:      nil,
		ContainerEnv:      nil,
		PostCreateCommand: "",
		Customizations:    nil,
	}

	if customBuild {
		manifest.Build = &ManifestBuild{Dockerfile: "Dockerfile"}
	} else {
		manifest.Image = prebuiltImage(sel)
	}

	if sel.Profile == ProfileAuditor {
		manifest.Mounts = []string{
			"source=${localWorkspaceFolder},target=/workspaces/${localWorkspaceFolderBasename},type=bind,readonly",
		}
		manifest.ContainerUser = auditorContainerUser
	}

	for _, feature := range sel.Features {
		uri, ok := featureURI(feature)
		if !ok {
			continue
		}
		if manifest.Features == nil {
			manifest.Features = map[string]map[string]any{}
		}
		manifest.Features[uri] = map[string]any{}
	}

	if hasFeature(sel, FeaturePorts) {
		manifest.ForwardPorts = forwardPortsFor(sel)
	}

	if sel.Shell != ShellBash {
		manifest.ContainerEnv = map[string]string{"SHELL": shellPath(sel.Shell)}
	}

	if hasFeature(sel, FeatureGit) {
		manifest.PostCreateCommand = "git config --global --add safe.directory ${containerWorkspaceFolder}"
	}

	if extensions := expandExtensions(sel); len(extensions) > 0 {
		manifest.Customizations = &ManifestCustomizations{
			VSCode: ManifestVSCode{Extensions: extensions},
		}
	}

	return manifest
}

// profileRunArgs returns the docker run hardening flags for a profile. The
// auditor list is the hardened list with every re-added capability removed.
func profileRunArgs(profile SecurityProfile) []string {
	switch profile {
	case ProfileSecure:
		return []string{
			"--cap-drop=ALL",
			"--cap-add=DAC_OVERRIDE",
			"--cap-add=SETGID",
			"--cap-add=SETUID",
			"--security-opt", "no-new-privileges:true",
		}
	case ProfileHardened:
		return []string{
			"--cap-drop=ALL",
			"--cap-add=DAC_OVERRIDE",
			"--security-opt", "no-new-privileges:true",
			"--security-opt", "seccomp=" + seccompProfilePath,
			"--security-opt", "apparmor=docker-default",
			"--read-only",
			"--tmpfs", "/tmp:rw,nosuid,nodev,noexec,size=512m",
			"--tmpfs", "/var/tmp:rw,nosuid,nodev,noexec,size=64m",
		}
	case ProfileAuditor:
		return []string{
			"--cap-drop=ALL",
			"--security-opt", "no-new-privileges:true",
			"--security-opt", "seccomp=" + seccompProfilePath,
			"--security-opt", "apparmor=docker-default",
			"--read-only",
			"--tmpfs", "/tmp:rw,nosuid,nodev,noexec,size=512m",
			"--tmpfs", "/var/tmp:rw,nosuid,nodev,noexec,size=64m",
		}
	case ProfileMinimal:
		return nil
	default:
		return nil
	}
}

// forwardPortsFor unions the port rules in declaration order, first match
// keeping its position. Callers gate on the ports feature being requested.
func forwardPortsFor(sel Selection) []int {
	var ports []int
	add := func(candidates ...int) {
		for _, p := range candidates {
			if !slices.Contains(ports, p) {
				ports = append(ports, p)
			}
		}
	}
	if hasAnyTool(sel, ToolHardhat, ToolNodejs) {
		add(8545, 3000)
	}
	if hasTool(sel, ToolFoundry) {
		add(8545)
	}
	if hasFeature(sel, FeatureIPFS) {
		add(5001, 8080)
	}
	if len(ports) == 0 {
		add(8545, 3000)
	}
	return ports
}

func shellPath(shell ShellKind) string {
	switch shell {
	case ShellZsh:
		return "/usr/bin/zsh"
	case ShellFish:
		return "/usr/bin/fish"
	case ShellBash:
		return "/bin/bash"
	default:
		return "/bin/bash"
	}
}

// expandExtensions resolves editor extensions from the selected categories,
// falling back to per-tool defaults when no category was chosen. Duplicates
// collapse onto their first occurrence.
func expandExtensions(sel Selection) []string {
	var raw []string
	if len(sel.ExtensionCategories) > 0 {
		for _, category := range sel.ExtensionCategories {
			raw = append(raw, categoryExtensions(category)...)
		}
	} else {
		for _, tool := range sel.Tools {
			raw = append(raw, toolFallbackExtensions(tool)...)
		}
	}
	return dedupeStrings(raw)
}

func dedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
