package forge

import (
	"encoding/json"
	"net/http"
)

////////////////////////////////////////////////////////////////////////////////
// Catalog + preview: the pure engine surface the form layer consumes
////////////////////////////////////////////////////////////////////////////////

type catalogFeature struct {
	ID  FeatureID `json:"id"`
	URI string    `json:"uri"`
}

type catalogExtensionCategory struct {
	ID         ExtensionCategoryID `json:"id"`
	Extensions []string            `json:"extensions"`
}

type catalogToolExtensions struct {
	ID         ToolID   `json:"id"`
	Extensions []string `json:"extensions"`
}

type catalogResponse struct {
	Profiles            []SecurityProfile          `json:"profiles"`
	Shells              []ShellKind                `json:"shells"`
	Tools               []ToolID                   `json:"tools"`
	SecurityTools       []SecurityToolID           `json:"security_tools"`
	Features            []catalogFeature           `json:"features"`
	ExtensionCategories []catalogExtensionCategory `json:"extension_categories"`
	ToolExtensions      []catalogToolExtensions    `json:"tool_extensions"`
}

func (a *API) handleCatalog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, buildCatalogResponse())
}

func buildCatalogResponse() catalogResponse {
	features := make([]catalogFeature, 0, len(allFeatureIDs()))
	for _, id := range allFeatureIDs() {
		uri, ok := featureURI(id)
		if !ok {
			continue
		}
		features = append(features, catalogFeature{ID: id, URI: uri})
	}

	categories := make([]catalogExtensionCategory, 0, len(allExtensionCategoryIDs()))
	for _, id := range allExtensionCategoryIDs() {
		categories = append(categories, catalogExtensionCategory{
			ID:         id,
			Extensions: categoryExtensions(id),
		})
	}

	toolExtensions := make([]catalogToolExtensions, 0, len(allToolIDs()))
	for _, id := range allToolIDs() {
		fallback := toolFallbackExtensions(id)
		if len(fallback) == 0 {
			continue
		}
		toolExtensions = append(toolExtensions, catalogToolExtensions{
			ID:         id,
			Extensions: fallback,
		})
	}

	return catalogResponse{
		Profiles:            allSecurityProfiles(),
		Shells:              allShellKinds(),
		Tools:               allToolIDs(),
		SecurityTools:       allSecurityToolIDs(),
		Features:            features,
		ExtensionCategories: categories,
		ToolExtensions:      toolExtensions,
	}
}

// handlePreview runs synthesis on a raw selection without persisting
// anything. The response is exactly what a synthesize op would compose, so
// form layers can render manifests and diagnostics before committing.
func (a *API) handlePreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var sel Selection
	if err := json.NewDecoder(r.Body).Decode(&sel); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	mode := resolveValidationMode().effectiveMode
	result, err := synthesizeWithMode(sel, mode)
	if err != nil {
		// Both invalid selections and strict-mode blocks are input problems
		// the caller can correct.
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"mode":   string(mode),
		"result": result,
	})
}
