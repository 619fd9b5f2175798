package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ternarybob/argus/internal/interfaces"
	"github.com/ternarybob/argus/internal/models"
)

type noopExecutor struct{}

func (noopExecutor) Execute(ctx context.Context, toolID string, input models.MediaInput, progress chan<- interfaces.UnitProgress) (*models.ToolResult, error) {
	return &models.ToolResult{ToolID: toolID}, nil
}

func TestRegistryValidate(t *testing.T) {
	reg := NewRegistry(testLogger())
	if err := reg.RegisterPlugin(PluginManifest{
		ID:    "vision",
		Name:  "Vision",
		Tools: []ToolManifest{{ID: "detect"}, {ID: "classify"}},
	}); err != nil {
		t.Fatalf("RegisterPlugin failed: %v", err)
	}
	if err := reg.BindExecutor("vision", "detect", noopExecutor{}); err != nil {
		t.Fatalf("BindExecutor failed: %v", err)
	}

	var validationErr *models.ValidationError

	if err := reg.Validate("vision", nil); !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError for empty tools, got %v", err)
	}
	if err := reg.Validate("audio", []string{"detect"}); !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError for unknown plugin, got %v", err)
	}
	if err := reg.Validate("vision", []string{"transcribe"}); !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError for unknown tool, got %v", err)
	}
	// classify is declared but has no executor bound
	if err := reg.Validate("vision", []string{"classify"}); !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError for unbound tool, got %v", err)
	}
	if err := reg.Validate("vision", []string{"detect"}); err != nil {
		t.Fatalf("expected valid pipeline, got %v", err)
	}
}

func TestRegistryBindExecutorUnknownTool(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.RegisterPlugin(PluginManifest{ID: "vision", Name: "Vision", Tools: []ToolManifest{{ID: "detect"}}})

	var notFound *models.NotFoundError
	if err := reg.BindExecutor("vision", "transcribe", noopExecutor{}); !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError for undeclared tool, got %v", err)
	}
	if err := reg.BindExecutor("audio", "detect", noopExecutor{}); !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError for unknown plugin, got %v", err)
	}
}

func TestRegistryLoadManifestDir(t *testing.T) {
	dir := t.TempDir()

	manifest := `id: vision
name: Vision analysis
description: Frame-level analysis tools
tools:
  - id: detect
    default_units: 500
  - id: classify
`
	if err := os.WriteFile(filepath.Join(dir, "vision.yaml"), []byte(manifest), 0644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	// Non-manifest files are ignored
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0644)

	reg := NewRegistry(testLogger())
	if err := reg.LoadManifestDir(dir); err != nil {
		t.Fatalf("LoadManifestDir failed: %v", err)
	}

	plugins := reg.Plugins()
	if len(plugins) != 1 || plugins[0].ID != "vision" {
		t.Fatalf("expected vision plugin, got %+v", plugins)
	}
	if units := reg.ToolDefaultUnits("vision", "detect"); units != 500 {
		t.Fatalf("expected manifest default units 500, got %d", units)
	}
	if units := reg.ToolDefaultUnits("vision", "classify"); units != 0 {
		t.Fatalf("expected no default units for classify, got %d", units)
	}
}

func TestRegistryLoadManifestDirMissingIsNotError(t *testing.T) {
	reg := NewRegistry(testLogger())
	if err := reg.LoadManifestDir(filepath.Join(t.TempDir(), "does-not-exist")); err != nil {
		t.Fatalf("missing manifest dir should not be an error, got %v", err)
	}
}
