package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/couchcryptid/heat-surveillance-etl/internal/domain"
)

// Restorer rebuilds evaluator state from readings an earlier run already
// evaluated and loaded.
type Restorer interface {
	Restore(ctx context.Context, readings []domain.Reading) error
}

// Warm drains src into r before the pipeline starts consuming. src reports the
// end of the backlog with io.EOF. Messages that fail to parse are skipped, as
// the live loop skipped them. Nothing is loaded and no offsets are committed.
// Returns the number of readings restored.
func Warm(ctx context.Context, src BatchExtractor, t Transformer, r Restorer, batchSize int, logger *slog.Logger) (int, error) {
	restored := 0
	for {
		rawBatch, err := src.ExtractBatch(ctx, batchSize)
		if errors.Is(err, io.EOF) {
			logger.Info("state restored", "readings", restored)
			return restored, nil
		}
		if err != nil {
			return restored, err
		}

		readings := make([]domain.Reading, 0, len(rawBatch))
		for _, raw := range rawBatch {
			reading, err := t.Transform(ctx, raw)
			if err != nil {
				logger.Debug("replayed message skipped", "error", err, "partition", raw.Partition, "offset", raw.Offset)
				continue
			}
			readings = append(readings, reading)
		}
		if len(readings) == 0 {
			continue
		}
		if err := r.Restore(ctx, readings); err != nil {
			return restored, err
		}
		restored += len(readings)
	}
}
