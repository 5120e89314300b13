package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"gopkg.in/yaml.v3"
)

// RuntimeConfig is the subset of the configuration that can be safely
// modified at runtime through the HTTP API. It excludes device,
// transport, and logging settings.
type RuntimeConfig struct {
	NightDim       NightDimConfig `yaml:"NightDim" json:"night_dim"`
	Visualizations []SlotConfig   `yaml:"Visualizations" json:"visualizations"`
}

// ConfigHandler routes API requests for /api/config to the appropriate
// handler based on the HTTP method.
func ConfigHandler(cfile string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			getConfigHandler(w, r, cfile)
		case http.MethodPost:
			setConfigHandler(w, r, cfile)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// getConfigHandler reads the current config file and returns the
// runtime-safe subset as JSON. The file is re-read on every request so
// the response always reflects the latest version on disk.
func getConfigHandler(w http.ResponseWriter, _ *http.Request, cfile string) {
	slog.Info("Handling GET /api/config request")
	fullConfig, err := ReadConfig(cfile)
	if err != nil {
		slog.Error("Failed to read config file for API", "error", err)
		http.Error(w, "Failed to read configuration", http.StatusInternalServerError)
		return
	}

	runtime := RuntimeConfig{
		NightDim:       fullConfig.NightDim,
		Visualizations: fullConfig.Visualizations,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(runtime); err != nil {
		slog.Error("Failed to encode runtime config to JSON", "error", err)
		http.Error(w, "Failed to serialize configuration", http.StatusInternalServerError)
	}
}

// setConfigHandler receives a JSON payload with runtime configuration,
// merges it with the full configuration on disk, validates it, and
// writes it back. The file watcher picks up the write and restarts the
// coordinator with the new definitions.
func setConfigHandler(w http.ResponseWriter, r *http.Request, cfile string) {
	slog.Info("Handling POST /api/config request")
	var runtime RuntimeConfig
	if err := json.NewDecoder(r.Body).Decode(&runtime); err != nil {
		slog.Error("Failed to decode incoming JSON", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	fullConfig, err := ReadConfig(cfile)
	if err != nil {
		slog.Error("Failed to read existing config for update", "error", err)
		http.Error(w, "Failed to read configuration", http.StatusInternalServerError)
		return
	}

	fullConfig.NightDim = runtime.NightDim
	fullConfig.Visualizations = runtime.Visualizations
	for i := range fullConfig.Visualizations {
		fullConfig.Visualizations[i].ApplyModeDefaults()
	}

	if err := fullConfig.Validate(); err != nil {
		slog.Error("Validation failed for new config", "error", err)
		http.Error(w, fmt.Sprintf("Invalid configuration: %v", err), http.StatusBadRequest)
		return
	}

	yamlData, err := yaml.Marshal(fullConfig)
	if err != nil {
		slog.Error("Failed to marshal merged config to YAML", "error", err)
		http.Error(w, "Failed to prepare configuration for saving", http.StatusInternalServerError)
		return
	}

	if err := os.WriteFile(cfile, yamlData, 0o644); err != nil {
		slog.Error("Failed to write updated config file", "error", err)
		http.Error(w, "Failed to save configuration", http.StatusInternalServerError)
		return
	}

	slog.Info("Successfully updated config file, visualizations will reload.")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "Configuration updated successfully.")
}
