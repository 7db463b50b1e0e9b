package forge

////////////////////////////////////////////////////////////////////////////////
// Installation catalog
////////////////////////////////////////////////////////////////////////////////

// Fragments must stay self-contained: each installs its own prerequisites and
// leaves no shell state behind, so block order never creates hidden coupling.
// The only assumption a fragment may make is that it runs before the
// privilege-drop block, i.e. as root.
const (
	ensureCurlLine = `RUN command -v curl >/dev/null 2>&1 || (apt-get update && apt-get install -y --no-install-recommends curl ca-certificates && rm -rf /var/lib/apt/lists/*)`
	ensurePipLine  = `RUN command -v pip3 >/dev/null 2>&1 || (apt-get update && apt-get install -y --no-install-recommends python3 python3-pip && rm -rf /var/lib/apt/lists/*)`
	ensureNodeLine = `RUN command -v npm >/dev/null 2>&1 || (apt-get update && apt-get install -y --no-install-recommends nodejs npm && rm -rf /var/lib/apt/lists/*)`
)

// toolFragment returns the Dockerfile lines that install a development tool.
// Unknown identifiers yield an empty fragment; totality here keeps catalog
// lookups decoupled from selection validation.
func toolFragment(id ToolID) []string {
	switch id {
	case ToolSolidity:
		return []string{
			ensurePipLine,
			`RUN pip3 install --no-cache-dir --break-system-packages solc-select==1.0.4 \
    && solc-select install 0.8.26 \
    && solc-select use 0.8.26`,
		}
	case ToolVyper:
		return []string{
			ensurePipLine,
			`RUN pip3 install --no-cache-dir --break-system-packages vyper==0.4.0`,
		}
	case ToolHardhat:
		return []string{
			ensureNodeLine,
			`RUN npm install -g hardhat@2.22.10`,
		}
	case ToolFoundry:
		return []string{
			ensureCurlLine,
			`RUN curl -fsSL https://foundry.paradigm.xyz -o /tmp/foundryup-installer \
    && FOUNDRY_DIR=/usr/local/foundry bash /tmp/foundryup-installer \
    && rm /tmp/foundryup-installer`,
			`ENV FOUNDRY_DIR=/usr/local/foundry`,
			`ENV PATH="/usr/local/foundry/bin:${PATH}"`,
			`RUN foundryup`,
		}
	case ToolNodejs:
		return []string{
			`RUN apt-get update && apt-get install -y --no-install-recommends nodejs npm && rm -rf /var/lib/apt/lists/*`,
		}
	case ToolPython:
		return []string{
			`RUN apt-get update && apt-get install -y --no-install-recommends python3 python3-pip python3-venv && rm -rf /var/lib/apt/lists/*`,
		}
	case ToolRust:
		return []string{
			ensureCurlLine,
			`RUN curl -fsSL https://sh.rustup.rs -o /tmp/rustup-init.sh \
    && RUSTUP_HOME=/usr/local/rustup CARGO_HOME=/usr/local/cargo sh /tmp/rustup-init.sh -y --profile minimal --default-toolchain stable \
    && rm /tmp/rustup-init.sh`,
			`ENV RUSTUP_HOME=/usr/local/rustup CARGO_HOME=/usr/local/cargo PATH="/usr/local/cargo/bin:${PATH}"`,
		}
	case ToolGo:
		return []string{
			ensureCurlLine,
			`RUN curl -fsSL https://go.dev/dl/go1.22.6.linux-amd64.tar.gz -o /tmp/go.tar.gz \
    && rm -rf /usr/local/go \
    && tar -C /usr/local -xzf /tmp/go.tar.gz \
    && rm /tmp/go.tar.gz`,
			`ENV PATH="/usr/local/go/bin:${PATH}"`,
		}
	default:
		return nil
	}
}

// securityToolFragment mirrors toolFragment for the audit tooling families.
func securityToolFragment(id SecurityToolID) []string {
	switch id {
	case SecToolStaticAnalysis:
		return []string{
			ensurePipLine,
			`RUN pip3 install --no-cache-dir --break-system-packages slither-analyzer==0.10.3 crytic-compile==0.3.7`,
		}
	case SecToolSymbolicExecution:
		return []string{
			ensurePipLine,
			`RUN pip3 install --no-cache-dir --break-system-packages mythril==0.24.8`,
		}
	case SecToolFuzzing:
		return []string{
			ensureCurlLine,
			`RUN curl -fsSL https://github.com/crytic/echidna/releases/download/v2.2.4/echidna-2.2.4-x86_64-linux.tar.gz -o /tmp/echidna.tar.gz \
    && tar -xzf /tmp/echidna.tar.gz -C /usr/local/bin echidna \
    && rm /tmp/echidna.tar.gz`,
		}
	case SecToolDecompilers:
		return []string{
			ensurePipLine,
			`RUN pip3 install --no-cache-dir --break-system-packages panoramix-decompiler==0.0.3`,
		}
	case SecToolForensics:
		return []string{
			`RUN apt-get update && apt-get install -y --no-install-recommends jq sqlite3 binutils && rm -rf /var/lib/apt/lists/*`,
			ensurePipLine,
			`RUN pip3 install --no-cache-dir --break-system-packages ethereum-etl==2.4.2`,
		}
	default:
		return nil
	}
}

// featureURI maps a requested feature onto its devcontainer feature
// reference. Features without a URI (package-managers, ipfs, ports) shape the
// build script or the manifest instead.
func featureURI(id FeatureID) (string, bool) {
	switch id {
	case FeatureGit:
		return "ghcr.io/devcontainers/features/git:1", true
	case FeatureDocker:
		return "ghcr.io/devcontainers/features/docker-in-docker:2", true
	case FeatureAsdf:
		return "ghcr.io/devcontainers-contrib/features/asdf-package:1", true
	case FeatureNvm:
		return "ghcr.io/devcontainers-contrib/features/nvm:2", true
	default:
		return "", false
	}
}

func categoryExtensions(id ExtensionCategoryID) []string {
	switch id {
	case ExtCategorySolidity:
		return []string{"JuanBlanco.solidity", "NomicFoundation.hardhat-solidity"}
	case ExtCategorySecurity:
		return []string{
			"tintinweb.solidity-visual-auditor",
			"tintinweb.solidity-metrics",
			"trailofbits.weaudit",
		}
	case ExtCategoryScripting:
		return []string{"ms-python.python", "rust-lang.rust-analyzer"}
	case ExtCategoryGeneral:
		return []string{"eamodio.gitlens", "streetsidesoftware.code-spell-checker"}
	default:
		return nil
	}
}

// toolFallbackExtensions applies when no extension categories were selected.
func toolFallbackExtensions(id ToolID) []string {
	switch id {
	case ToolSolidity:
		return []string{"JuanBlanco.solidity"}
	case ToolHardhat:
		return []string{"NomicFoundation.hardhat-solidity"}
	case ToolFoundry:
		return []string{"JuanBlanco.solidity"}
	case ToolVyper:
		return []string{"tintinweb.vscode-vyper"}
	case ToolNodejs:
		return []string{"dbaeumer.vscode-eslint"}
	case ToolPython:
		return []string{"ms-python.python"}
	case ToolRust:
		return []string{"rust-lang.rust-analyzer"}
	case ToolGo:
		return []string{"golang.go"}
	default:
		return nil
	}
}

// buildBaseImage picks the FROM line for custom builds. Rust wins over Go
// wins over Node so the heaviest toolchain comes preinstalled.
func buildBaseImage(sel Selection) string {
	switch {
	case hasTool(sel, ToolRust):
		return "rust:1.79-bookworm"
	case hasTool(sel, ToolGo):
		return "golang:1.22-bookworm"
	case hasTool(sel, ToolNodejs):
		return "node:20-bookworm"
	default:
		return "mcr.microsoft.com/devcontainers/base:bookworm"
	}
}

// prebuiltImage picks the published image used when no custom build is
// needed. Node wins over Python wins over Rust wins over Go.
func prebuiltImage(sel Selection) string {
	switch {
	case hasTool(sel, ToolNodejs):
		return "mcr.microsoft.com/devcontainers/javascript-node:20-bookworm"
	case hasTool(sel, ToolPython):
		return "mcr.microsoft.com/devcontainers/python:3.12-bookworm"
	case hasTool(sel, ToolRust):
		return "mcr.microsoft.com/devcontainers/rust:1-bookworm"
	case hasTool(sel, ToolGo):
		return "mcr.microsoft.com/devcontainers/go:1.22-bookworm"
	default:
		return "mcr.microsoft.com/devcontainers/base:bookworm"
	}
}
