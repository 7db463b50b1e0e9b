//nolint:exhaustruct // Selection fixtures only set fields relevant to each test assertion.
package forge_test

import (
	"slices"
	"testing"

	forge "github.com/theredguild/devforge"
)

func TestEngine_ManifestNameFollowsProfile(t *testing.T) {
	t.Parallel()

	for _, profile := range []forge.SecurityProfile{
		forge.ProfileMinimal, forge.ProfileSecure, forge.ProfileHardened, forge.ProfileAuditor,
	} {
		res, err := forge.Synthesize(forge.Selection{Profile: profile})
		if err != nil {
			t.Fatalf("Synthesize(%s): %v", profile, err)
		}
		want := "devsec-" + string(profile)
		if res.Manifest.Name != want {
			t.Fatalf("manifest name = %q, want %q", res.Manifest.Name, want)
		}
	}
}

func TestEngine_ManifestCarriesExactlyOneOfBuildOrImage(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		sel       forge.Selection
		wantBuild bool
	}{
		{
			name:      "plain minimal resolves a published image",
			sel:       forge.Selection{},
			wantBuild: false,
		},
		{
			name:      "single nodejs tool stays prebuilt",
			sel:       forge.Selection{Tools: []forge.ToolID{forge.ToolNodejs}},
			wantBuild: false,
		},
		{
			name:      "hardened always builds",
			sel:       forge.Selection{Profile: forge.ProfileHardened},
			wantBuild: true,
		},
		{
			name:      "solidity always builds",
			sel:       forge.Selection{Tools: []forge.ToolID{forge.ToolSolidity}},
			wantBuild: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res, err := forge.Synthesize(tc.sel)
			if err != nil {
				t.Fatalf("Synthesize: %v", err)
			}
			hasBuild := res.Manifest.Build != nil
			hasImage := res.Manifest.Image != ""
			if hasBuild == hasImage {
				t.Fatalf("manifest must carry exactly one of build and image (build=%v image=%q)",
					hasBuild, res.Manifest.Image)
			}
			if hasBuild != tc.wantBuild {
				t.Fatalf("build = %v, want %v", hasBuild, tc.wantBuild)
			}
			if tc.wantBuild && res.Manifest.Build.Dockerfile != "Dockerfile" {
				t.Fatalf("build dockerfile = %q, want Dockerfile", res.Manifest.Build.Dockerfile)
			}
			if tc.wantBuild != res.CustomBuild {
				t.Fatalf("CustomBuild flag %v disagrees with manifest build %v", res.CustomBuild, hasBuild)
			}
		})
	}
}

func TestEngine_ManifestRunArgsPerProfile(t *testing.T) {
	t.Parallel()

	minimal, err := forge.Synthesize(forge.Selection{Profile: forge.ProfileMinimal})
	if err != nil {
		t.Fatalf("Synthesize minimal: %v", err)
	}
	if minimal.Manifest.RunArgs != nil {
		t.Fatalf("minimal profile must not set run args, got %v", minimal.Manifest.RunArgs)
	}

	secure, err := forge.Synthesize(forge.Selection{Profile: forge.ProfileSecure})
	if err != nil {
		t.Fatalf("Synthesize secure: %v", err)
	}
	for _, arg := range []string{
		"--cap-drop=ALL", "--cap-add=DAC_OVERRIDE", "--cap-add=SETGID", "--cap-add=SETUID",
	} {
		if !slices.Contains(secure.Manifest.RunArgs, arg) {
			t.Fatalf("secure run args missing %q: %v", arg, secure.Manifest.RunArgs)
		}
	}
	if slices.Contains(secure.Manifest.RunArgs, "--read-only") {
		t.Fatalf("secure profile must keep a writable root filesystem: %v", secure.Manifest.RunArgs)
	}

	hardened, err := forge.Synthesize(forge.Selection{Profile: forge.ProfileHardened})
	if err != nil {
		t.Fatalf("Synthesize hardened: %v", err)
	}
	for _, arg := range []string{
		"--cap-drop=ALL", "--cap-add=DAC_OVERRIDE", "--read-only",
		"seccomp=/etc/devsec/seccomp.json", "apparmor=docker-default",
	} {
		if !slices.Contains(hardened.Manifest.RunArgs, arg) {
			t.Fatalf("hardened run args missing %q: %v", arg, hardened.Manifest.RunArgs)
		}
	}

	auditor, err := forge.Synthesize(forge.Selection{Profile: forge.ProfileAuditor})
	if err != nil {
		t.Fatalf("Synthesize auditor: %v", err)
	}
	for _, arg := range auditor.Manifest.RunArgs {
		if arg == "--cap-add=DAC_OVERRIDE" {
			t.Fatalf("auditor must not re-add any capability: %v", auditor.Manifest.RunArgs)
		}
	}
	if !slices.Contains(auditor.Manifest.RunArgs, "--read-only") {
		t.Fatalf("auditor run args missing --read-only: %v", auditor.Manifest.RunArgs)
	}
}

func TestEngine_ManifestAuditorMountsWorkspaceReadonly(t *testing.T) {
	t.Parallel()

	auditor, err := forge.Synthesize(forge.Selection{Profile: forge.ProfileAuditor})
	if err != nil {
		t.Fatalf("Synthesize auditor: %v", err)
	}
	wantMount := "source=${localWorkspaceFolder},target=/workspaces/${localWorkspaceFolderBasename},type=bind,readonly"
	if len(auditor.Manifest.Mounts) != 1 || auditor.Manifest.Mounts[0] != wantMount {
		t.Fatalf("auditor mounts = %v, want [%s]", auditor.Manifest.Mounts, wantMount)
	}
	if auditor.Manifest.ContainerUser != "nobody" {
		t.Fatalf("auditor containerUser = %q, want nobody", auditor.Manifest.ContainerUser)
	}

	hardened, err := forge.Synthesize(forge.Selection{Profile: forge.ProfileHardened})
	if err != nil {
		t.Fatalf("Synthesize hardened: %v", err)
	}
	if len(hardened.Manifest.Mounts) != 0 || hardened.Manifest.ContainerUser != "" {
		t.Fatalf("readonly workspace mount is auditor-only, got mounts=%v user=%q",
			hardened.Manifest.Mounts, hardened.Manifest.ContainerUser)
	}
}

func TestEngine_ManifestFeatureURIs(t *testing.T) {
	t.Parallel()

	res, err := forge.Synthesize(forge.Selection{
		Features: []forge.FeatureID{
			forge.FeatureGit, forge.FeatureDocker, forge.FeatureAsdf,
			forge.FeatureNvm, forge.FeaturePorts,
		},
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	wantURIs := []string{
		"ghcr.io/devcontainers/features/git:1",
		"ghcr.io/devcontainers/features/docker-in-docker:2",
		"ghcr.io/devcontainers-contrib/features/asdf-package:1",
		"ghcr.io/devcontainers-contrib/features/nvm:2",
	}
	if len(res.Manifest.Features) != len(wantURIs) {
		t.Fatalf("features = %v, want %d entries", res.Manifest.Features, len(wantURIs))
	}
	for _, uri := range wantURIs {
		options, ok := res.Manifest.Features[uri]
		if !ok {
			t.Fatalf("features missing %q: %v", uri, res.Manifest.Features)
		}
		if len(options) != 0 {
			t.Fatalf("feature %q should carry empty options, got %v", uri, options)
		}
	}
}

func TestEngine_ManifestForwardPortsUnion(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		sel  forge.Selection
		want []int
	}{
		{
			name: "ports alone falls back to the default pair",
			sel:  forge.Selection{Features: []forge.FeatureID{forge.FeaturePorts}},
			want: []int{8545, 3000},
		},
		{
			name: "hardhat forwards rpc and app ports",
			sel: forge.Selection{
				Tools:    []forge.ToolID{forge.ToolHardhat},
				Features: []forge.FeatureID{forge.FeaturePorts},
			},
			want: []int{8545, 3000},
		},
		{
			name: "foundry forwards only the rpc port",
			sel: forge.Selection{
				Tools:    []forge.ToolID{forge.ToolFoundry},
				Features: []forge.FeatureID{forge.FeaturePorts},
			},
			want: []int{8545},
		},
		{
			name: "ipfs forwards daemon and gateway",
			sel: forge.Selection{
				Features: []forge.FeatureID{forge.FeaturePorts, forge.FeatureIPFS},
			},
			want: []int{5001, 8080},
		},
		{
			name: "union dedupes across rules",
			sel: forge.Selection{
				Tools:    []forge.ToolID{forge.ToolNodejs, forge.ToolFoundry},
				Features: []forge.FeatureID{forge.FeaturePorts, forge.FeatureIPFS},
			},
			want: []int{8545, 3000, 5001, 8080},
		},
		{
			name: "no ports feature means no forwarding",
			sel: forge.Selection{
				Tools: []forge.ToolID{forge.ToolHardhat},
			},
			want: nil,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res, err := forge.Synthesize(tc.sel)
			if err != nil {
				t.Fatalf("Synthesize: %v", err)
			}
			if !slices.Equal(res.Manifest.ForwardPorts, tc.want) {
				t.Fatalf("forwardPorts = %v, want %v", res.Manifest.ForwardPorts, tc.want)
			}
		})
	}
}

func TestEngine_ManifestShellEnv(t *testing.T) {
	t.Parallel()

	zsh, err := forge.Synthesize(forge.Selection{Shell: forge.ShellZsh})
	if err != nil {
		t.Fatalf("Synthesize zsh: %v", err)
	}
	if got := zsh.Manifest.ContainerEnv["SHELL"]; got != "/usr/bin/zsh" {
		t.Fatalf("zsh SHELL = %q, want /usr/bin/zsh", got)
	}

	fish, err := forge.Synthesize(forge.Selection{Shell: forge.ShellFish})
	if err != nil {
		t.Fatalf("Synthesize fish: %v", err)
	}
	if got := fish.Manifest.ContainerEnv["SHELL"]; got != "/usr/bin/fish" {
		t.Fatalf("fish SHELL = %q, want /usr/bin/fish", got)
	}

	bash, err := forge.Synthesize(forge.Selection{Shell: forge.ShellBash})
	if err != nil {
		t.Fatalf("Synthesize bash: %v", err)
	}
	if bash.Manifest.ContainerEnv != nil {
		t.Fatalf("bash needs no SHELL override, got %v", bash.Manifest.ContainerEnv)
	}
}

func TestEngine_ManifestGitPostCreateCommand(t *testing.T) {
	t.Parallel()

	withGit, err := forge.Synthesize(forge.Selection{
		Features: []forge.FeatureID{forge.FeatureGit},
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	want := "git config --global --add safe.directory ${containerWorkspaceFolder}"
	if withGit.Manifest.PostCreateCommand != want {
		t.Fatalf("postCreateCommand = %q, want %q", withGit.Manifest.PostCreateCommand, want)
	}

	withoutGit, err := forge.Synthesize(forge.Selection{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if withoutGit.Manifest.PostCreateCommand != "" {
		t.Fatalf("postCreateCommand should be empty without git, got %q",
			withoutGit.Manifest.PostCreateCommand)
	}
}

func TestEngine_ManifestExtensionsPreferCategoriesOverToolFallback(t *testing.T) {
	t.Parallel()

	categories, err := forge.Synthesize(forge.Selection{
		Tools:               []forge.ToolID{forge.ToolGo},
		ExtensionCategories: []forge.ExtensionCategoryID{forge.ExtCategorySolidity, forge.ExtCategoryScripting},
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if categories.Manifest.Customizations == nil {
		t.Fatalf("categories selected but no customizations emitted")
	}
	gotExts := categories.Manifest.Customizations.VSCode.Extensions
	wantExts := []string{
		"JuanBlanco.solidity",
		"NomicFoundation.hardhat-solidity",
		"ms-python.python",
		"rust-lang.rust-analyzer",
	}
	if !slices.Equal(gotExts, wantExts) {
		t.Fatalf("extensions = %v, want %v", gotExts, wantExts)
	}
	if slices.Contains(gotExts, "golang.go") {
		t.Fatalf("tool fallback must not leak when categories are selected: %v", gotExts)
	}
}

func TestEngine_ManifestExtensionToolFallbackDedupes(t *testing.T) {
	t.Parallel()

	res, err := forge.Synthesize(forge.Selection{
		Tools: []forge.ToolID{forge.ToolSolidity, forge.ToolFoundry},
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if res.Manifest.Customizations == nil {
		t.Fatalf("tool fallback should emit extensions")
	}
	gotExts := res.Manifest.Customizations.VSCode.Extensions
	if !slices.Equal(gotExts, []string{"JuanBlanco.solidity"}) {
		t.Fatalf("solidity and foundry share one extension, got %v", gotExts)
	}
}

func TestEngine_ManifestNoExtensionsWithoutSelection(t *testing.T) {
	t.Parallel()

	res, err := forge.Synthesize(forge.Selection{Profile: forge.ProfileSecure})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if res.Manifest.Customizations != nil {
		t.Fatalf("no tools and no categories should emit no customizations, got %+v",
			res.Manifest.Customizations)
	}
}
