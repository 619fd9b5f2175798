// -----------------------------------------------------------------------
// Tool Executor Interface - capability contract for the analysis layer
// -----------------------------------------------------------------------

package interfaces

import (
	"context"

	"github.com/ternarybob/argus/internal/models"
)

// UnitProgress is one progress increment emitted by a running tool.
// Unit counts from 1 to Total.
type UnitProgress struct {
	Unit  int
	Total int
}

// ToolExecutor executes one tool of a pipeline. The analysis logic itself
// (detection, extraction, ...) lives behind this interface.
//
// Progress crosses the execution boundary as messages on the progress
// channel, not as a callback: the engine owns the channel and drains it
// concurrently, so a slow consumer can never stall inference. Executors must
// send with a non-blocking select when they cannot afford to wait, and must
// observe ctx between units so cancellation takes effect at a unit boundary.
type ToolExecutor interface {
	// Execute runs the tool against the input, streaming unit progress.
	// The executor must not close the channel; the engine owns its lifecycle.
	Execute(ctx context.Context, toolID string, input models.MediaInput, progress chan<- UnitProgress) (*models.ToolResult, error)
}

// UnitProber estimates total work units for a tool's input from metadata
// only. It must be cheap; an error means "unknown", never a job failure.
type UnitProber interface {
	EstimateUnits(input models.MediaInput) (int, error)
}
