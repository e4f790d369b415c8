package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/markdave123-py/papertrail/internal/services"
)

type SearchHandler struct {
	search *services.SearchService
	log    *zap.Logger
}

func NewSearchHandler(search *services.SearchService, log *zap.Logger) *SearchHandler {
	return &SearchHandler{search: search, log: log}
}

type searchResponse struct {
	Query   string                  `json:"query"`
	Mode    services.SearchMode     `json:"mode"`
	Scope   services.SearchScope    `json:"scope"`
	Results []services.SearchResult `json:"results"`
}

func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	limit, _ := strconv.Atoi(params.Get("limit"))

	q, err := services.Query{
		Text:  params.Get("q"),
		Mode:  services.SearchMode(params.Get("mode")),
		Scope: services.SearchScope(params.Get("scope")),
		Limit: limit,
	}.Normalize()
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	results, err := h.search.Search(r.Context(), q)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if results == nil {
		results = []services.SearchResult{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Query: q.Text, Mode: q.Mode, Scope: q.Scope, Results: results})
}
