package segments

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"clipstitch/internal/fileutil"
)

// SidecarName is the file written next to each merged asset.
const SidecarName = "segments.json"

// SchemaVersion is the newest sidecar version this build writes and reads.
const SchemaVersion = 1

// ErrUnsupportedSchema reports a sidecar written by a newer or unknown schema.
var ErrUnsupportedSchema = errors.New("unsupported segment schema version")

// Sidecar is the on-disk segment record of one asset.
type Sidecar struct {
	SchemaVersion int       `json:"schema_version"`
	AssetID       string    `json:"asset_id"`
	Segments      []Segment `json:"segments"`
}

// WriteSidecar atomically writes the current schema to path.
func WriteSidecar(path, assetID string, segs []Segment) error {
	data, err := json.MarshalIndent(Sidecar{SchemaVersion: SchemaVersion, AssetID: assetID, Segments: segs}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode segment sidecar: %w", err)
	}
	return fileutil.WriteFileAtomic(path, append(data, '\n'), 0o644)
}

// ReadSidecar decodes a sidecar, failing on versions it does not know.
func ReadSidecar(path string) (Sidecar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Sidecar{}, err
	}
	return DecodeSidecar(data)
}

// DecodeSidecar parses sidecar bytes. Unknown fields are ignored.
func DecodeSidecar(data []byte) (Sidecar, error) {
	var header struct {
		SchemaVersion *int `json:"schema_version"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return Sidecar{}, fmt.Errorf("decode segment sidecar: %w", err)
	}
	if header.SchemaVersion == nil {
		return Sidecar{}, fmt.Errorf("%w: missing schema_version", ErrUnsupportedSchema)
	}
	if v := *header.SchemaVersion; v < 1 || v > SchemaVersion {
		return Sidecar{}, fmt.Errorf("%w: %d (this build reads up to %d)", ErrUnsupportedSchema, v, SchemaVersion)
	}
	var sc Sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return Sidecar{}, fmt.Errorf("decode segment sidecar: %w", err)
	}
	return sc, nil
}
