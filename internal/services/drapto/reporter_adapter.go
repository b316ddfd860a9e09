package drapto

import (
	"log/slog"

	draptolib "github.com/five82/drapto"

	"clipstitch/internal/logging"
)

// reporter narrows Drapto's Reporter to what a merge job records: encode
// percentages go to the callback, warnings and errors go to the log.
type reporter struct {
	logger   *slog.Logger
	progress func(float64)
}

func newReporter(logger *slog.Logger, progress func(float64)) *reporter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &reporter{logger: logger, progress: progress}
}

func (r *reporter) emit(percent float64) {
	if r.progress == nil || percent < 0 {
		return
	}
	r.progress(min(percent, 100))
}

func (r *reporter) StageProgress(s draptolib.StageProgress) {
	r.logger.Debug("drapto stage",
		logging.String(logging.FieldStage, s.Stage),
		logging.Float64("percent", float64(s.Percent)),
		logging.String("message", s.Message),
	)
}

func (r *reporter) EncodingStarted(uint64) { r.emit(0) }

func (r *reporter) EncodingProgress(s draptolib.ProgressSnapshot) { r.emit(float64(s.Percent)) }

func (r *reporter) EncodingComplete(draptolib.EncodingOutcome) { r.emit(100) }

func (r *reporter) Warning(message string) {
	logging.WarnWithContext(r.logger, "drapto warning", "drapto_warning",
		logging.String("message", message),
		logging.String(logging.FieldImpact, "merge compression continues"),
	)
}

func (r *reporter) Error(e draptolib.ReporterError) {
	r.logger.Error("drapto error",
		logging.String(logging.FieldEventType, "drapto_error"),
		logging.String("title", e.Title),
		logging.String("message", e.Message),
	)
}

func (r *reporter) Hardware(draptolib.HardwareSummary)             {}
func (r *reporter) Initialization(draptolib.InitializationSummary) {}
func (r *reporter) CropResult(draptolib.CropSummary)               {}
func (r *reporter) EncodingConfig(draptolib.EncodingConfigSummary) {}
func (r *reporter) ValidationComplete(draptolib.ValidationSummary) {}
func (r *reporter) OperationComplete(string)                       {}
func (r *reporter) BatchStarted(draptolib.BatchStartInfo)          {}
func (r *reporter) FileProgress(draptolib.FileProgressContext)     {}
func (r *reporter) BatchComplete(draptolib.BatchSummary)           {}

var _ draptolib.Reporter = (*reporter)(nil)
