package pipeline

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/heat-surveillance-etl/internal/domain"
)

// ReadingTransformer implements Transformer by parsing the collectors' JSON.
type ReadingTransformer struct {
	logger *slog.Logger
}

// NewTransformer creates a ReadingTransformer.
func NewTransformer(logger *slog.Logger) *ReadingTransformer {
	return &ReadingTransformer{logger: logger}
}

func (t *ReadingTransformer) Transform(_ context.Context, raw domain.RawEvent) (domain.Reading, error) {
	r, err := domain.ParseRawEvent(raw)
	if err != nil {
		return domain.Reading{}, err
	}
	t.logger.Debug("reading parsed", "kind", r.Kind, "date", domain.FormatDate(r.Date()), "offset", raw.Offset)
	return r, nil
}
