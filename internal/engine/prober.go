package engine

import (
	"fmt"
	"math"

	"github.com/ternarybob/argus/internal/interfaces"
	"github.com/ternarybob/argus/internal/models"
)

// MetadataProber estimates total work units from input metadata without
// touching the media itself. It checks frame_count first, then derives a
// count from duration_seconds * fps. An error means "unknown" and the engine
// falls back to the configured default; it never fails the job.
type MetadataProber struct{}

// NewMetadataProber creates a metadata-only unit prober
func NewMetadataProber() interfaces.UnitProber {
	return &MetadataProber{}
}

func (p *MetadataProber) EstimateUnits(input models.MediaInput) (int, error) {
	if input.Metadata == nil {
		return 0, fmt.Errorf("no metadata available for %s", input.URI)
	}

	if frames, ok := metadataInt(input.Metadata, "frame_count"); ok && frames > 0 {
		return frames, nil
	}

	duration, hasDuration := metadataFloat(input.Metadata, "duration_seconds")
	fps, hasFPS := metadataFloat(input.Metadata, "fps")
	if hasDuration && hasFPS && duration > 0 && fps > 0 {
		return int(math.Ceil(duration * fps)), nil
	}

	return 0, fmt.Errorf("unable to estimate units for %s", input.URI)
}

// metadataInt reads an int from metadata, tolerating the float64 that JSON
// unmarshaling produces for numbers.
func metadataInt(m map[string]interface{}, key string) (int, bool) {
	switch v := m[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

func metadataFloat(m map[string]interface{}, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
