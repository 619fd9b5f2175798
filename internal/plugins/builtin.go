// -----------------------------------------------------------------------
// Builtin plugin - metadata-driven analysis tools with no external backend
// -----------------------------------------------------------------------

package plugins

import (
	"context"
	"fmt"

	"github.com/ternarybob/argus/internal/engine"
	"github.com/ternarybob/argus/internal/interfaces"
	"github.com/ternarybob/argus/internal/models"
)

// CorePluginID is the plugin id of the built-in pipeline.
const CorePluginID = "core"

const (
	ToolMetadataScan = "metadata_scan"
	ToolUnitWalk     = "unit_walk"
)

// Register installs the built-in core plugin. Its tools analyze only the
// submitted metadata, so the full pipeline (submission, progress, delivery)
// works without any inference backend attached.
func Register(reg *engine.Registry) error {
	manifest := engine.PluginManifest{
		ID:          CorePluginID,
		Name:        "Core analysis",
		Description: "Built-in metadata analysis tools",
		Tools: []engine.ToolManifest{
			{ID: ToolMetadataScan, DefaultUnits: 8},
			{ID: ToolUnitWalk},
		},
	}

	if err := reg.RegisterPlugin(manifest); err != nil {
		return err
	}
	if err := reg.BindExecutor(CorePluginID, ToolMetadataScan, metadataScanExecutor{}); err != nil {
		return err
	}
	return reg.BindExecutor(CorePluginID, ToolUnitWalk, unitWalkExecutor{})
}

// metadataScanExecutor inventories the input metadata: one unit per key.
type metadataScanExecutor struct{}

func (metadataScanExecutor) Execute(ctx context.Context, toolID string, input models.MediaInput, progress chan<- interfaces.UnitProgress) (*models.ToolResult, error) {
	keys := make([]string, 0, len(input.Metadata))
	for k := range input.Metadata {
		keys = append(keys, k)
	}

	total := len(keys)
	if total == 0 {
		total = 1
	}

	fields := make(map[string]interface{}, len(keys))
	for i, k := range keys {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		fields[k] = fmt.Sprintf("%T", input.Metadata[k])
		progress <- interfaces.UnitProgress{Unit: i + 1, Total: total}
	}

	if len(keys) == 0 {
		progress <- interfaces.UnitProgress{Unit: 1, Total: total}
	}

	return &models.ToolResult{
		ToolID: toolID,
		Data: map[string]interface{}{
			"uri":       input.URI,
			"mime_type": input.MimeType,
			"fields":    fields,
		},
		UnitsProcessed: total,
	}, nil
}

// unitWalkExecutor walks every frame-unit of the input, reporting progress
// per unit. The unit count comes from frame_count metadata; unknown inputs
// fall back to the prober/default chain by reporting Total 0.
type unitWalkExecutor struct{}

func (unitWalkExecutor) Execute(ctx context.Context, toolID string, input models.MediaInput, progress chan<- interfaces.UnitProgress) (*models.ToolResult, error) {
	total := 0
	if v, ok := input.Metadata["frame_count"]; ok {
		switch n := v.(type) {
		case int:
			total = n
		case float64:
			total = int(n)
		}
	}

	units := total
	if units <= 0 {
		units = 100
	}

	for i := 1; i <= units; i++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		progress <- interfaces.UnitProgress{Unit: i, Total: total}
	}

	return &models.ToolResult{
		ToolID: toolID,
		Data: map[string]interface{}{
			"units_walked": units,
		},
		UnitsProcessed: units,
	}, nil
}
