package forge

import (
	"fmt"
	"strings"
)

////////////////////////////////////////////////////////////////////////////////
// Build script composition
////////////////////////////////////////////////////////////////////////////////

type scriptBlockKind string

const (
	blockBaseImage       scriptBlockKind = "base-image"
	blockHardening       scriptBlockKind = "hardening"
	blockBaseline        scriptBlockKind = "baseline"
	blockShell           scriptBlockKind = "shell"
	blockTool            scriptBlockKind = "tool"
	blockSecurityTool    scriptBlockKind = "security-tool"
	blockPackageManagers scriptBlockKind = "package-managers"
	blockIPFS            scriptBlockKind = "ipfs"
	blockPrivilegeDrop   scriptBlockKind = "privilege-drop"
)

type scriptBlock struct {
	kind  scriptBlockKind
	label string
	lines []string
}

// composeBuildScript assembles the Dockerfile blocks in their fixed order:
// base image, hardening, baseline packages, shell, tools, security tools,
// package managers, ipfs, and the privilege drop. The privilege drop is
// always the last block so no install step ever runs after the USER switch.
func composeBuildScript(sel Selection) []scriptBlock {
	hardenedProfile := sel.Profile == ProfileHardened || sel.Profile == ProfileAuditor

	blocks := []scriptBlock{
		{
			kind:  blockBaseImage,
			label: "base image",
			lines: []string{"FROM " + buildBaseImage(sel)},
		},
	}

	if hardenedProfile {
		blocks = append(blocks, scriptBlock{
			kind:  blockHardening,
			label: "hardening",
			lines: hardeningLines(),
		})
	}

	blocks = append(blocks, scriptBlock{
		kind:  blockBaseline,
		label: "baseline packages",
		lines: baselineLines(hasFeature(sel, FeatureGit)),
	})

	if sel.Shell != ShellBash {
		blocks = append(blocks, scriptBlock{
			kind:  blockShell,
			label: "shell: " + string(sel.Shell),
			lines: []string{
				fmt.Sprintf(`RUN apt-get update && apt-get install -y --no-install-recommends %s && rm -rf /var/lib/apt/lists/*`, sel.Shell),
			},
		})
	}

	for _, tool := range sel.Tools {
		fragment := toolFragment(tool)
		if len(fragment) == 0 {
			continue
		}
		blocks = append(blocks, scriptBlock{
			kind:  blockTool,
			label: "tool: " + string(tool),
			lines: fragment,
		})
	}

	for _, secTool := range sel.SecurityTools {
		fragment := securityToolFragment(secTool)
		if len(fragment) == 0 {
			continue
		}
		blocks = append(blocks, scriptBlock{
			kind:  blockSecurityTool,
			label: "security tool: " + string(secTool),
			lines: fragment,
		})
	}

	if hasFeature(sel, FeaturePackageManagers) {
		blocks = append(blocks, scriptBlock{
			kind:  blockPackageManagers,
			label: "package managers",
			lines: []string{
				ensureNodeLine,
				`RUN npm install -g pnpm@9.7.0 yarn@1.22.22`,
			},
		})
	}

	if hasFeature(sel, FeatureIPFS) {
		blocks = append(blocks, scriptBlock{
			kind:  blockIPFS,
			label: "ipfs",
			lines: []string{
				ensureCurlLine,
				`RUN curl -fsSL https://dist.ipfs.tech/kubo/v0.29.0/kubo_v0.29.0_linux-amd64.tar.gz -o /tmp/kubo.tar.gz \
    && tar -xzf /tmp/kubo.tar.gz -C /tmp \
    && /tmp/kubo/install.sh \
    && rm -rf /tmp/kubo /tmp/kubo.tar.gz`,
			},
		})
	}

	drop := scriptBlock{
		kind:  blockPrivilegeDrop,
		label: "workspace",
		lines: nil,
	}
	if hardenedProfile {
		drop.lines = append(drop.lines, "USER "+unprivilegedBuildUser)
	}
	drop.lines = append(drop.lines, "WORKDIR "+containerWorkspacePath)
	blocks = append(blocks, drop)

	return blocks
}

func hardeningLines() []string {
	return []string{
		fmt.Sprintf(`RUN groupadd --gid %d %s \
    && useradd --uid %d --gid %s --create-home --shell /bin/bash %s`,
			unprivilegedBuildUID, unprivilegedBuildUser,
			unprivilegedBuildUID, unprivilegedBuildUser, unprivilegedBuildUser),
		fmt.Sprintf(`RUN mkdir -p /etc/devsec \
    && printf '%%s' '{"defaultAction":"SCMP_ACT_ALLOW","syscalls":[{"names":["mount","umount2","kexec_load","init_module","finit_module","delete_module"],"action":"SCMP_ACT_ERRNO"}]}' > %s`,
			seccompProfilePath),
	}
}

func baselineLines(withGit bool) []string {
	packages := []string{"ca-certificates", "curl", "wget", "python3"}
	if withGit {
		packages = append(packages, "git")
	}
	var b strings.Builder
	b.WriteString("RUN apt-get update && apt-get install -y --no-install-recommends \\\n")
	for _, pkg := range packages {
		fmt.Fprintf(&b, "    %s \\\n", pkg)
	}
	b.WriteString("    && rm -rf /var/lib/apt/lists/*")
	return []string{b.String()}
}

// renderBuildScript flattens the blocks into Dockerfile text. Rendering is
// purely mechanical so equal selections always produce identical bytes.
func renderBuildScript(sel Selection, blocks []scriptBlock) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# devsec container build (profile: %s)\n", sel.Profile)
	for _, blk := range blocks {
		b.WriteString("\n")
		fmt.Fprintf(&b, "# %s\n", blk.label)
		for _, line := range blk.lines {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return b.String()
}
