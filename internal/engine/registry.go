// -----------------------------------------------------------------------
// Plugin Registry - static (plugin, tool) -> executor mapping
// -----------------------------------------------------------------------

package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"
	"gopkg.in/yaml.v3"

	"github.com/ternarybob/argus/internal/interfaces"
	"github.com/ternarybob/argus/internal/models"
)

// PluginManifest describes a plugin and its tool pipeline. Manifests are
// loaded from YAML files at startup; executors are registered in code and
// bound to the tool ids a manifest declares.
type PluginManifest struct {
	ID          string         `yaml:"id"`
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Tools       []ToolManifest `yaml:"tools"`
}

// ToolManifest describes one tool of a plugin.
type ToolManifest struct {
	ID string `yaml:"id"`
	// DefaultUnits overrides the engine-wide fallback unit count for this
	// tool when the prober cannot estimate one. 0 means use the engine
	// default.
	DefaultUnits int `yaml:"default_units"`
}

type pluginEntry struct {
	manifest  PluginManifest
	executors map[string]interfaces.ToolExecutor
}

// Registry validates submissions against the known (plugin, tool) pairs and
// resolves executors at run time. Validation happens at submission, not at
// call time, so a bad pipeline never creates a job record.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]*pluginEntry
	logger  arbor.ILogger
}

// NewRegistry creates an empty plugin registry
func NewRegistry(logger arbor.ILogger) *Registry {
	return &Registry{
		plugins: make(map[string]*pluginEntry),
		logger:  logger,
	}
}

// RegisterPlugin adds a plugin manifest to the registry.
func (r *Registry) RegisterPlugin(manifest PluginManifest) error {
	if manifest.ID == "" {
		return fmt.Errorf("plugin id is required")
	}
	if len(manifest.Tools) == 0 {
		return fmt.Errorf("plugin %s declares no tools", manifest.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[manifest.ID]; exists {
		return fmt.Errorf("plugin already registered: %s", manifest.ID)
	}

	r.plugins[manifest.ID] = &pluginEntry{
		manifest:  manifest,
		executors: make(map[string]interfaces.ToolExecutor),
	}

	r.logger.Debug().
		Str("plugin_id", manifest.ID).
		Int("tools", len(manifest.Tools)).
		Msg("Plugin registered")

	return nil
}

// BindExecutor attaches an executor to a declared tool of a plugin.
func (r *Registry) BindExecutor(pluginID, toolID string, executor interfaces.ToolExecutor) error {
	if executor == nil {
		return fmt.Errorf("executor cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.plugins[pluginID]
	if !ok {
		return &models.NotFoundError{Kind: "plugin", ID: pluginID}
	}
	if !entry.declaresTool(toolID) {
		return &models.NotFoundError{Kind: "tool", ID: pluginID + "/" + toolID}
	}

	entry.executors[toolID] = executor
	return nil
}

// LoadManifestDir loads all *.yaml / *.yml plugin manifests from a
// directory. A missing directory is not an error; plugins can also be
// registered in code.
func (r *Registry) LoadManifestDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			r.logger.Debug().Str("dir", dir).Msg("Plugin manifest directory not found, skipping")
			return nil
		}
		return fmt.Errorf("failed to read manifest directory %s: %w", dir, err)
	}

	loaded := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read manifest %s: %w", path, err)
		}

		var manifest PluginManifest
		if err := yaml.Unmarshal(data, &manifest); err != nil {
			return fmt.Errorf("failed to parse manifest %s: %w", path, err)
		}

		if err := r.RegisterPlugin(manifest); err != nil {
			return fmt.Errorf("failed to register manifest %s: %w", path, err)
		}
		loaded++
	}

	r.logger.Info().Str("dir", dir).Int("plugins", loaded).Msg("Plugin manifests loaded")
	return nil
}

// Validate checks a submission against the registry. Returns
// *models.ValidationError for an empty pipeline, unknown plugin, unknown
// tool, or a tool with no bound executor.
func (r *Registry) Validate(pluginID string, tools []string) error {
	if len(tools) == 0 {
		return models.NewValidationError("tools list cannot be empty")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.plugins[pluginID]
	if !ok {
		return models.NewValidationError("unknown plugin: %s", pluginID)
	}

	for _, toolID := range tools {
		if !entry.declaresTool(toolID) {
			return models.NewValidationError("unknown tool for plugin %s: %s", pluginID, toolID)
		}
		if _, bound := entry.executors[toolID]; !bound {
			return models.NewValidationError("tool %s of plugin %s has no executor", toolID, pluginID)
		}
	}

	return nil
}

// Executor resolves the executor for a (plugin, tool) pair.
func (r *Registry) Executor(pluginID, toolID string) (interfaces.ToolExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.plugins[pluginID]
	if !ok {
		return nil, &models.NotFoundError{Kind: "plugin", ID: pluginID}
	}
	executor, ok := entry.executors[toolID]
	if !ok {
		return nil, &models.NotFoundError{Kind: "tool", ID: pluginID + "/" + toolID}
	}
	return executor, nil
}

// ToolDefaultUnits returns the manifest default-unit override for a tool,
// or 0 when the tool declares none.
func (r *Registry) ToolDefaultUnits(pluginID, toolID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.plugins[pluginID]
	if !ok {
		return 0
	}
	for _, t := range entry.manifest.Tools {
		if t.ID == toolID {
			return t.DefaultUnits
		}
	}
	return 0
}

// Plugins returns the registered plugin manifests.
func (r *Registry) Plugins() []PluginManifest {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]PluginManifest, 0, len(r.plugins))
	for _, entry := range r.plugins {
		result = append(result, entry.manifest)
	}
	return result
}

func (e *pluginEntry) declaresTool(toolID string) bool {
	for _, t := range e.manifest.Tools {
		if t.ID == toolID {
			return true
		}
	}
	return false
}
