package assets

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"clipstitch/internal/logging"
	"clipstitch/internal/segments"
	"clipstitch/internal/services"
	"clipstitch/internal/store"
)

const stageName = "assets"

// Catalog resolves asset and clip records.
type Catalog interface {
	GetAsset(ctx context.Context, id string) (*store.MergedAsset, error)
	GetClip(ctx context.Context, id string) (*store.Clip, error)
}

// SegmentLookup returns the segments of a merged asset.
type SegmentLookup interface {
	Lookup(ctx context.Context, assetID string) ([]segments.Segment, error)
}

// Stream is an open, possibly partial, file body ready to be written to a
// client. Callers must Close it.
type Stream struct {
	Body    io.ReadCloser
	Status  int
	Headers http.Header
	Length  int64
}

// Close releases the underlying file.
func (s *Stream) Close() error {
	if s == nil || s.Body == nil {
		return nil
	}
	return s.Body.Close()
}

// Server streams merged assets and clips.
type Server struct {
	catalog Catalog
	index   SegmentLookup
	logger  *slog.Logger
}

// NewServer constructs a Server.
func NewServer(catalog Catalog, index SegmentLookup, logger *slog.Logger) *Server {
	return &Server{catalog: catalog, index: index, logger: logging.NewComponentLogger(logger, "assets")}
}

// Stream opens a merged asset. Assets not yet approved by moderation are
// hidden unless the principal may review them.
func (s *Server) Stream(ctx context.Context, p services.Principal, assetID, rangeHeader string) (*Stream, error) {
	asset, err := s.visibleAsset(ctx, p, assetID)
	if err != nil {
		return nil, err
	}
	stream, err := s.open(asset.FilePath, rangeHeader)
	if err != nil {
		return nil, err
	}
	stream.Headers.Set("ETag", strconv.Quote(asset.ID))
	stream.Headers.Set("Cache-Control", "private, max-age=31536000, immutable")
	s.logStream("asset", asset.ID, stream)
	return stream, nil
}

// StreamClip opens an individual pre-merge clip.
func (s *Server) StreamClip(ctx context.Context, clipID, rangeHeader string) (*Stream, error) {
	if strings.TrimSpace(clipID) == "" {
		return nil, services.Wrap(services.ErrNotFound, stageName, "clip", "clip not found", nil)
	}
	clip, err := s.catalog.GetClip(ctx, clipID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, services.Wrap(services.ErrNotFound, stageName, "clip", "clip not found", nil)
		}
		return nil, services.Wrap(services.ErrTransient, stageName, "clip", "load clip", err)
	}
	stream, err := s.open(clip.FilePath, rangeHeader)
	if err != nil {
		return nil, err
	}
	stream.Headers.Set("ETag", strconv.Quote(clip.ID))
	s.logStream("clip", clip.ID, stream)
	return stream, nil
}

// Segments returns the statement boundaries of a visible asset.
func (s *Server) Segments(ctx context.Context, p services.Principal, assetID string) ([]segments.Segment, error) {
	if _, err := s.visibleAsset(ctx, p, assetID); err != nil {
		return nil, err
	}
	return s.index.Lookup(ctx, assetID)
}

// Asset returns the record of a visible asset.
func (s *Server) Asset(ctx context.Context, p services.Principal, assetID string) (*store.MergedAsset, error) {
	return s.visibleAsset(ctx, p, assetID)
}

func (s *Server) visibleAsset(ctx context.Context, p services.Principal, assetID string) (*store.MergedAsset, error) {
	notFound := services.Wrap(services.ErrNotFound, stageName, "asset", "asset not found", nil)
	if strings.TrimSpace(assetID) == "" {
		return nil, notFound
	}
	asset, err := s.catalog.GetAsset(ctx, assetID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFound
		}
		return nil, services.Wrap(services.ErrTransient, stageName, "asset", "load asset", err)
	}
	if asset.Status != store.AssetVisible && !p.Has(services.PermAssetsReview) {
		s.logger.Debug("hiding unapproved asset",
			logging.String(logging.FieldAssetID, asset.ID),
			logging.String("status", string(asset.Status)),
		)
		return nil, notFound
	}
	return asset, nil
}

func (s *Server) open(path, rangeHeader string) (*Stream, error) {
	file, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logging.WarnWithContext(s.logger, "media file unreadable", "stream_open_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "stream reported as not found"),
			)
		}
		return nil, services.Wrap(services.ErrNotFound, stageName, "open", "media file missing", nil)
	}
	info, err := file.Stat()
	if err != nil || info.IsDir() {
		_ = file.Close()
		return nil, services.Wrap(services.ErrNotFound, stageName, "open", "media file missing", nil)
	}
	size := info.Size()

	headers := http.Header{}
	headers.Set("Accept-Ranges", "bytes")
	headers.Set("Content-Type", contentType(path))
	headers.Set("Last-Modified", info.ModTime().UTC().Format(http.TimeFormat))

	rng, partial, err := ParseRange(rangeHeader, size)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	if !partial {
		headers.Set("Content-Length", strconv.FormatInt(size, 10))
		return &Stream{Body: file, Status: http.StatusOK, Headers: headers, Length: size}, nil
	}
	headers.Set("Content-Range", rng.ContentRange(size))
	headers.Set("Content-Length", strconv.FormatInt(rng.Length(), 10))
	body := &sectionCloser{
		Reader: io.NewSectionReader(file, rng.Start, rng.Length()),
		file:   file,
	}
	return &Stream{Body: body, Status: http.StatusPartialContent, Headers: headers, Length: rng.Length()}, nil
}

func (s *Server) logStream(kind, id string, stream *Stream) {
	s.logger.Debug("stream opened",
		logging.String("kind", kind),
		logging.String("id", id),
		logging.Int("status", stream.Status),
		logging.String("content_range", stream.Headers.Get("Content-Range")),
		logging.Int64("length", stream.Length),
	)
}

type sectionCloser struct {
	io.Reader
	file *os.File
}

func (s *sectionCloser) Close() error { return s.file.Close() }

func contentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".mkv":
		return "video/x-matroska"
	case ".webm":
		return "video/webm"
	case ".mov":
		return "video/quicktime"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

// UnsatisfiableSize returns the file size carried by a range error, for the
// Content-Range header of a 416 response.
func UnsatisfiableSize(err error) (int64, bool) {
	var rangeErr *RangeError
	if errors.As(err, &rangeErr) {
		return rangeErr.Size, true
	}
	return 0, false
}

