package segments

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"

	"clipstitch/internal/logging"
	"clipstitch/internal/services"
	"clipstitch/internal/store"
)

// Index answers segment lookups for merged assets.
type Index struct {
	store     *store.Store
	assetsDir string
	logger    *slog.Logger
}

// NewIndex constructs an Index over the store and the asset directory tree.
func NewIndex(st *store.Store, assetsDir string, logger *slog.Logger) *Index {
	return &Index{store: st, assetsDir: assetsDir, logger: logging.NewComponentLogger(logger, "segments")}
}

// SidecarPath returns the sidecar location for an asset.
func (x *Index) SidecarPath(assetID string) string {
	return filepath.Join(x.assetsDir, assetID, SidecarName)
}

// Lookup returns the asset's segments ordered by statement index. When the
// database lost the rows but the asset exists, the sidecar is read and the
// rows are restored.
func (x *Index) Lookup(ctx context.Context, assetID string) ([]Segment, error) {
	asset, err := x.store.GetAsset(ctx, assetID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, services.Wrap(services.ErrNotFound, "segments", "lookup", "no merge record for asset", nil)
		}
		return nil, services.Wrap(services.ErrTransient, "segments", "lookup", "load asset", err)
	}
	segs, err := x.store.Segments(ctx, assetID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "segments", "lookup", "load segments", err)
	}
	if len(segs) > 0 {
		return segs, nil
	}
	return x.recover(ctx, asset)
}

func (x *Index) recover(ctx context.Context, asset *store.MergedAsset) ([]Segment, error) {
	sc, err := ReadSidecar(x.SidecarPath(asset.ID))
	if err != nil {
		if errors.Is(err, ErrUnsupportedSchema) {
			return nil, services.Wrap(services.ErrConfiguration, "segments", "recover", "sidecar written by a newer version", err)
		}
		return nil, services.Wrap(services.ErrNotFound, "segments", "recover", "no segment record for asset", nil)
	}
	if sc.AssetID != asset.ID {
		return nil, services.Wrap(services.ErrIntegrity, "segments", "recover", "sidecar belongs to another asset", nil)
	}
	if err := Validate(sc.Segments, asset.TotalDurationMS); err != nil {
		return nil, services.Wrap(services.ErrIntegrity, "segments", "recover", "sidecar segments invalid", err)
	}
	if err := x.store.ReplaceSegments(ctx, asset.ID, sc.Segments); err != nil {
		x.logger.Warn("restore segment rows",
			logging.Error(err),
			logging.String(logging.FieldAssetID, asset.ID),
		)
	} else {
		x.logger.Info("segment rows restored from sidecar",
			logging.String(logging.FieldEventType, "segments_recovered"),
			logging.String(logging.FieldAssetID, asset.ID),
		)
	}
	return sc.Segments, nil
}
