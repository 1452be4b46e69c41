package httpapi

import (
	"fmt"
	"net/http"

	"github.com/evidentia/syncplatform/infrastructure/errors"
	"github.com/evidentia/syncplatform/infrastructure/httputil"
)

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

// handleSearch runs a text query over indexed documents' file names, types,
// and extracted OCR text.
func (s *Service) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.Query == "" {
		writeErr(w, errors.MissingParameter("query"))
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 25
	}

	cacheKey := fmt.Sprintf("%s:%d", req.Query, limit)
	if s.deps.SearchCache != nil {
		if cached, ok := s.deps.SearchCache.Get(r.Context(), cacheKey); ok {
			writeOK(w, http.StatusOK, cached)
			return
		}
	}

	results, err := s.deps.Documents.Search(r.Context(), req.Query, limit)
	if err != nil {
		writeErr(w, errors.DatabaseError("search documents", err))
		return
	}
	if s.deps.SearchCache != nil {
		s.deps.SearchCache.Set(r.Context(), cacheKey, results)
	}
	writeOK(w, http.StatusOK, results)
}
