package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/link-preview/internal/preview"
)

// Batch validation messages.
const (
	MsgURLsRequired = "URLs are required"
	MsgNoURLs       = "No URLs provided for preview generation"
)

// Batch resolves up to MaxBatch URLs one after another. A nil slice, an empty
// slice and an oversized slice are rejected outright; per-URL failures become
// entries in the result and never abort the batch.
func (s *Service) Batch(ctx context.Context, urls []string) ([]preview.BatchResult, error) {
	switch {
	case urls == nil:
		return nil, preview.NewValidationError(MsgURLsRequired)
	case len(urls) == 0:
		return nil, preview.NewValidationError(MsgNoURLs)
	case len(urls) > s.cfg.MaxBatch:
		return nil, preview.NewValidationError(
			fmt.Sprintf("Too many URLs provided for preview generation, limit is %d", s.cfg.MaxBatch))
	}

	results := make([]preview.BatchResult, 0, len(urls))
	for _, raw := range urls {
		if strings.TrimSpace(raw) == "" {
			s.logger.Debug("skipping empty batch entry")
			continue
		}
		results = append(results, s.batchEntry(ctx, raw))
	}
	return results, nil
}

func (s *Service) batchEntry(ctx context.Context, raw string) preview.BatchResult {
	normalized, err := preview.NormalizeURL(raw)
	if err != nil {
		s.logger.Warn("invalid url in batch", zap.String("url", raw), zap.Error(err))
		return preview.BatchResult{
			URL:   preview.EnsureScheme(raw),
			Error: preview.MsgInvalidURL,
			Type:  string(preview.KindValidation),
		}
	}

	res, err := s.lookup(ctx, normalized)
	if err != nil {
		return preview.BatchResult{
			URL:     normalized,
			Error:   preview.MsgGenerationFailed,
			Details: err.Error(),
			Type:    string(preview.KindOf(err)),
		}
	}

	rec := res.Record
	fromCache := res.FromCache
	return preview.BatchResult{
		URL:       normalized,
		Data:      &rec,
		FromCache: &fromCache,
	}
}
