package drapto

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"

	draptolib "github.com/five82/drapto"

	"clipstitch/internal/logging"
)

// Client compresses one concatenated merge input. progress receives encode
// percentages in [0,100]; it may be nil.
type Client interface {
	Encode(ctx context.Context, inputPath, outputDir string, progress func(percent float64)) (string, error)
}

// Library implements Client using the Drapto Go library directly.
type Library struct {
	opts   []draptolib.Option
	logger *slog.Logger
}

// NewLibrary constructs a Library client. Encoder options default to
// responsive mode so merges do not starve the upload handlers of CPU.
func NewLibrary(logger *slog.Logger, opts ...draptolib.Option) *Library {
	if len(opts) == 0 {
		opts = []draptolib.Option{draptolib.WithResponsive()}
	}
	return &Library{opts: opts, logger: logging.NewComponentLogger(logger, "drapto")}
}

// Encode encodes inputPath into outputDir and returns the produced file.
func (l *Library) Encode(ctx context.Context, inputPath, outputDir string, progress func(percent float64)) (string, error) {
	if strings.TrimSpace(inputPath) == "" {
		return "", errors.New("input path required")
	}
	outputDir = strings.TrimSpace(outputDir)
	if outputDir == "" {
		return "", errors.New("output directory required")
	}

	encoder, err := draptolib.New(l.opts...)
	if err != nil {
		return "", err
	}
	if _, err := encoder.EncodeWithReporter(ctx, inputPath, outputDir, newReporter(l.logger, progress)); err != nil {
		return "", err
	}
	return OutputPath(inputPath, outputDir), nil
}

// OutputPath mirrors Drapto's naming: the input stem with an .mkv extension
// inside outputDir.
func OutputPath(inputPath, outputDir string) string {
	base := filepath.Base(inputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		stem = base
	}
	return filepath.Join(outputDir, stem+".mkv")
}

var _ Client = (*Library)(nil)
