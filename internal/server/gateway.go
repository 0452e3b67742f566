package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"PerpAMM/internal/errs"
	"PerpAMM/internal/ingestion"
	"PerpAMM/internal/query"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
)

const (
	maxBodyBytes        = 1 << 20
	defaultHistoryLimit = 100
)

// newHandler builds the HTTP surface:
//
//	POST /v1/preview/{type}                               preview request, body as on amm.preview.{type}
//	POST /v1/snapshots                                    inject a snapshot
//	GET  /v1/pools                                        loaded pools
//	GET  /v1/pools/{pool}/funding/{perpetual_index}       funding projections, ?limit=
//	GET  /healthz, /readyz
func (s *Server) newHandler() (http.Handler, error) {
	gw := runtime.NewServeMux()
	routes := []struct {
		method, pattern string
		handler         runtime.HandlerFunc
	}{
		{http.MethodPost, "/v1/preview/{type}", s.handlePreview},
		{http.MethodPost, "/v1/snapshots", s.handleInjectSnapshot},
		{http.MethodGet, "/v1/pools", s.handlePools},
		{http.MethodGet, "/v1/pools/{pool}/funding/{perpetual_index}", s.handleFundingHistory},
	}
	for _, r := range routes {
		if err := gw.HandlePath(r.method, r.pattern, r.handler); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", r.method, r.pattern, err)
		}
	}

	mux := http.NewServeMux()
	if s.deps.Health != nil {
		mux.HandleFunc("/healthz", s.deps.Health.LivenessHandler)
		mux.HandleFunc("/readyz", s.deps.Health.ReadinessHandler)
	}
	mux.Handle("/", gw)
	return mux, nil
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request, params map[string]string) {
	rt, ok := ingestion.PreviewSubjects[params["type"]]
	if !ok {
		s.writeReply(w, http.StatusNotFound, ingestion.NewReply(nil, errs.InvalidArgument("unknown preview %q", params["type"])))
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		s.writeReply(w, http.StatusBadRequest, ingestion.NewReply(nil, err))
		return
	}
	req, err := ingestion.ParseRequest(rt, body)
	if err != nil {
		s.writeReply(w, query.HTTPStatus(err), ingestion.NewReply(nil, err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.deps.RequestTimeout)
	defer cancel()
	result, err := s.deps.Query.Handle(ctx, req)
	s.writeReply(w, query.HTTPStatus(err), ingestion.NewReply(result, err))
}

func (s *Server) handleInjectSnapshot(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if s.deps.Ingest == nil {
		s.writeReply(w, http.StatusNotImplemented, ingestion.NewReply(nil, fmt.Errorf("snapshot injection disabled")))
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		s.writeReply(w, http.StatusBadRequest, ingestion.NewReply(nil, err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.deps.RequestTimeout)
	defer cancel()
	update, err := s.deps.Ingest.InjectSnapshot(ctx, body)
	if err != nil {
		s.writeReply(w, query.HTTPStatus(err), ingestion.NewReply(nil, err))
		return
	}
	s.writeReply(w, http.StatusAccepted, ingestion.NewReply(map[string]interface{}{
		"pool":  update.Pool,
		"block": update.Block,
	}, nil))
}

func (s *Server) handlePools(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
	s.writeReply(w, http.StatusOK, ingestion.NewReply(s.deps.Query.Pools(), nil))
}

func (s *Server) handleFundingHistory(w http.ResponseWriter, r *http.Request, params map[string]string) {
	perpetualIndex, err := strconv.Atoi(params["perpetual_index"])
	if err != nil || perpetualIndex < 0 {
		s.writeReply(w, http.StatusBadRequest, ingestion.NewReply(nil, errs.InvalidArgument("bad perpetual index %q", params["perpetual_index"])))
		return
	}
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit <= 0 {
			s.writeReply(w, http.StatusBadRequest, ingestion.NewReply(nil, errs.InvalidArgument("bad limit %q", v)))
			return
		}
	}

	history, err := s.deps.Query.FundingHistory(params["pool"], perpetualIndex, limit)
	s.writeReply(w, query.HTTPStatus(err), ingestion.NewReply(history, err))
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, errs.InvalidArgument("read body: %v", err)
	}
	return body, nil
}

func (s *Server) writeReply(w http.ResponseWriter, status int, reply ingestion.Reply) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(reply); err != nil {
		s.logger.Warn().Err(err).Msg("write reply")
	}
}
