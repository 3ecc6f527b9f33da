package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/link-preview/internal/cache"
	"github.com/JakeFAU/link-preview/internal/preview"
	"github.com/JakeFAU/link-preview/internal/service"
)

const (
	msgInvalidJSON      = "invalid JSON body"
	msgInvalidURLsField = "urls must be a string or an array of strings"
	msgCacheKeysFailed  = "Failed to fetch cache keys"
	msgCacheClearFailed = "Failed to clear cache"
	msgCacheStatsFailed = "Failed to fetch cache stats"
)

type previewRequest struct {
	URL string `json:"url"`
}

type previewsRequest struct {
	URLs json.RawMessage `json:"urls"`
}

type previewResponse struct {
	preview.Record
	FromCache bool `json:"fromCache"`
}

type failureResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Type    string `json:"type,omitempty"`
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidJSON)
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, preview.MsgURLRequired)
		return
	}

	res, err := s.previews.GetOrGenerate(r.Context(), req.URL)
	if err != nil {
		s.writeFailure(w, r, req.URL, err)
		return
	}
	writeJSON(w, http.StatusOK, previewResponse{Record: res.Record, FromCache: res.FromCache})
}

func (s *Server) handlePreviews(w http.ResponseWriter, r *http.Request) {
	var req previewsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidJSON)
		return
	}
	urls, err := parseURLs(req.URLs)
	if err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidURLsField)
		return
	}

	results, err := s.previews.Batch(r.Context(), urls)
	if err != nil {
		s.writeFailure(w, r, "", err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidJSON)
		return
	}
	normalized, err := preview.NormalizeURL(req.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	if err := s.cache.Delete(r.Context(), cache.EncodeKey(normalized)); err != nil {
		s.logger.Error("cache delete failed", zap.String("url", normalized), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, failureResponse{
			Error:   msgCacheClearFailed,
			Details: err.Error(),
			Type:    string(preview.KindCacheUnavailable),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cache cleared"})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	info, err := s.cache.Stats(r.Context())
	if err != nil {
		s.logger.Error("cache stats failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, failureResponse{Error: msgCacheStatsFailed, Details: err.Error()})
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(info)); err != nil {
		s.logger.Warn("write cache stats failed", zap.Error(err))
	}
}

func (s *Server) handleCacheKeys(w http.ResponseWriter, r *http.Request) {
	entries, failures, err := s.cache.ListByPrefix(r.Context(), cache.KeyPrefix)
	if err != nil {
		s.logger.Error("cache listing failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, failureResponse{Error: msgCacheKeysFailed, Details: err.Error()})
		return
	}
	if len(entries) == 0 && len(failures) > 0 {
		writeJSON(w, http.StatusInternalServerError, failureResponse{
			Error:   msgCacheKeysFailed,
			Details: failures[0].Err.Error(),
		})
		return
	}
	if len(entries) == 0 {
		writeJSON(w, http.StatusOK, map[string]string{"message": "No cache keys found"})
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// writeFailure maps service errors onto the response shapes clients expect.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, rawURL string, err error) {
	if preview.IsValidation(err) {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	s.logger.Error("preview request failed",
		zap.String("url", rawURL),
		zap.String("request_id", requestIDFrom(r.Context())),
		zap.Error(err),
	)
	writeJSON(w, http.StatusInternalServerError, failureResponse{
		Error:   preview.MsgGenerationFailed,
		Details: err.Error(),
		Type:    string(preview.KindOf(err)),
	})
}

func validationMessage(err error) string {
	var perr *preview.Error
	if errors.As(err, &perr) && perr.Msg != "" {
		return perr.Msg
	}
	return err.Error()
}

// parseURLs accepts a single string or an array of strings. Absent, null
// and empty-string values yield nil.
func parseURLs(raw json.RawMessage) ([]string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var single string
	if err := json.Unmarshal(trimmed, &single); err == nil {
		if single == "" {
			return nil, nil
		}
		return []string{single}, nil
	}
	urls := []string{}
	if err := json.Unmarshal(trimmed, &urls); err != nil {
		return nil, err
	}
	return urls, nil
}

var _ PreviewService = (*service.Service)(nil)
