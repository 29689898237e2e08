package server

import (
	"encoding/json"
	"net/http"

	"github.com/mnohosten/forumidx/pkg/engine"
)

// QueryRequest is the JSON body for POST /query and each message on the
// WebSocket stream.
type QueryRequest struct {
	Tokens       []string `json:"tokens"`
	TopK         int      `json:"topK,omitempty"`
	Conjunctive  bool     `json:"conjunctive,omitempty"`
	WantFulltext bool     `json:"wantFulltext,omitempty"`
}

// QueryResponse is the JSON shape returned for a single query, mirroring
// engine.Response.
type QueryResponse struct {
	Results     []engine.Result  `json:"results"`
	Diagnostics []engine.TermIDF `json:"diagnostics"`
}

// resolveParams fills in a QueryRequest's omitted fields from cfg's
// defaults and clamps TopK to cfg.MaxTopK. Shared by the REST, WebSocket,
// and GraphQL surfaces so all three enforce the same limits.
func resolveParams(cfg *Config, req QueryRequest) engine.Params {
	topK := req.TopK
	if topK <= 0 {
		topK = cfg.DefaultTopK
	}
	if cfg.MaxTopK > 0 && topK > cfg.MaxTopK {
		topK = cfg.MaxTopK
	}
	wantFulltext := req.WantFulltext
	if !wantFulltext {
		wantFulltext = cfg.DefaultWantFulltext
	}
	return engine.Params{
		TopK:         topK,
		Conjunctive:  req.Conjunctive,
		WantFulltext: wantFulltext,
	}
}

func (s *Server) runQuery(req QueryRequest) (*QueryResponse, error) {
	resp, err := s.evaluator.Evaluate(req.Tokens, resolveParams(s.config, req))
	if err != nil {
		return nil, err
	}
	return &QueryResponse{Results: resp.Results, Diagnostics: resp.Diagnostics}, nil
}

// handleQuery serves POST /query: decode one QueryRequest, evaluate it,
// write one QueryResponse.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	resp, err := s.runQuery(req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	WriteSuccess(w, resp)
}

func writeEngineError(w http.ResponseWriter, err error) {
	if engine.IsFault(err, engine.KindConfiguration) {
		WriteError(w, http.StatusBadRequest, "configuration_fault", err.Error())
		return
	}
	WriteError(w, http.StatusInternalServerError, "storage_fault", err.Error())
}

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// WriteError writes a structured error response.
func WriteError(w http.ResponseWriter, statusCode int, errorType, message string) {
	WriteJSON(w, statusCode, map[string]interface{}{
		"ok":      false,
		"error":   errorType,
		"message": message,
		"code":    statusCode,
	})
}

// WriteSuccess writes a successful response wrapping result.
func WriteSuccess(w http.ResponseWriter, result interface{}) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"ok":     true,
		"result": result,
	})
}
