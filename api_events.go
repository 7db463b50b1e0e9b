package forge

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

////////////////////////////////////////////////////////////////////////////////
// Synthesis event intake
////////////////////////////////////////////////////////////////////////////////

func (a *API) handleSynthesisEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	evt, err := decodeSynthesisEvent(r)
	if err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	switch evt.Action {
	case "create":
		a.handleSynthesisCreate(w, r, evt.Spec)
	case "update":
		a.handleSynthesisUpdate(w, r, evt.EnvironmentID, evt.Spec)
	case "delete":
		a.handleSynthesisDelete(w, r, evt.EnvironmentID)
	default:
		http.Error(w, "action must be create, update, or delete", http.StatusBadRequest)
	}
}

func decodeSynthesisEvent(r *http.Request) (SynthesisEvent, error) {
	var evt SynthesisEvent
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		return SynthesisEvent{}, err
	}
	evt.Action = strings.TrimSpace(strings.ToLower(evt.Action))
	return evt, nil
}

func (a *API) handleSynthesisCreate(w http.ResponseWriter, r *http.Request, spec EnvironmentSpec) {
	env, op, final, err := a.createEnvironmentFromSpec(r.Context(), spec)
	if err != nil {
		writeSynthesisError(w, err)
		return
	}
	writeEnvironmentOpFinalResponse(w, env, op, final)
}

func (a *API) handleSynthesisUpdate(
	w http.ResponseWriter,
	r *http.Request,
	envID string,
	spec EnvironmentSpec,
) {
	envID = strings.TrimSpace(envID)
	if envID == "" {
		http.Error(w, "environment_id required", http.StatusBadRequest)
		return
	}
	env, op, final, err := a.updateEnvironmentFromSpec(r.Context(), envID, spec)
	if err != nil {
		writeSynthesisError(w, err)
		return
	}
	writeEnvironmentOpFinalResponse(w, env, op, final)
}

func (a *API) handleSynthesisDelete(w http.ResponseWriter, r *http.Request, envID string) {
	envID = strings.TrimSpace(envID)
	if envID == "" {
		http.Error(w, "environment_id required", http.StatusBadRequest)
		return
	}
	op, final, err := a.deleteEnvironment(r.Context(), envID)
	if err != nil {
		writeSynthesisError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deleted": true,
		"op":      op,
		"final":   final,
	})
}

////////////////////////////////////////////////////////////////////////////////
// System status
////////////////////////////////////////////////////////////////////////////////

type systemNATSStatus struct {
	Embedded     bool   `json:"embedded"`
	StoreDirMode string `json:"store_dir_mode"`
}

type systemRealtimeStatus struct {
	SSEEnabled           bool   `json:"sse_enabled"`
	SSEReplayWindow      int    `json:"sse_replay_window"`
	SSEHeartbeatInterval string `json:"sse_heartbeat_interval"`
}

type systemStatus struct {
	Version                 string               `json:"version"`
	HTTPAddr                string               `json:"http_addr"`
	ArtifactsRoot           string               `json:"artifacts_root"`
	ValidationModeRequested string               `json:"validation_mode_requested"`
	ValidationModeEffective string               `json:"validation_mode_effective"`
	ValidationModeReason    string               `json:"validation_mode_reason,omitempty"`
	NATS                    systemNATSStatus     `json:"nats"`
	Realtime                systemRealtimeStatus `json:"realtime"`
	Time                    time.Time            `json:"time"`
}

func (a *API) handleSystem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, systemStatus{
		Version:                 a.system.Version,
		HTTPAddr:                a.system.HTTPAddr,
		ArtifactsRoot:           a.system.ArtifactsRoot,
		ValidationModeRequested: a.system.ValidationModeRequested,
		ValidationModeEffective: a.system.ValidationModeEffective,
		ValidationModeReason:    a.system.ValidationModeReason,
		NATS: systemNATSStatus{
			Embedded:     a.system.NATSEmbedded,
			StoreDirMode: natsStoreDirModeLabel(a.system.NATSStoreEphemeral),
		},
		Realtime: systemRealtimeStatus{
			SSEEnabled:           a.opEvents != nil,
			SSEReplayWindow:      a.opEvents.replayWindow(),
			SSEHeartbeatInterval: a.effectiveOpHeartbeatInterval().String(),
		},
		Time: time.Now().UTC(),
	})
}

func natsStoreDirModeLabel(ephemeral bool) string {
	if ephemeral {
		return "ephemeral"
	}
	return "persistent"
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
