package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/matsen/scholartab/internal/classify"
	"github.com/matsen/scholartab/internal/dashboard"
)

const maxPredictBody = 1 << 20

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// snapshot loads the current tables, answering 500 on failure.
func (s *Server) snapshot(w http.ResponseWriter) (*dashboard.Snapshot, bool) {
	snap, err := s.source.Snapshot()
	if err != nil {
		s.logger.Error().Err(err).Msg("loading tables")
		writeError(w, http.StatusInternalServerError, "failed to load tables")
		return nil, false
	}
	return snap, true
}

func (s *Server) yearsHandler(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snap.YearBounds())
}

type papersByYearResponse struct {
	Range dashboard.YearRange   `json:"range"`
	Total int                   `json:"total"`
	Years []dashboard.YearCount `json:"years"`
}

func (s *Server) papersByYearHandler(w http.ResponseWriter, r *http.Request) {
	yr, err := parseYearRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}

	years := snap.PapersByYear(yr)
	total := 0
	for _, y := range years {
		total += y.Count
	}
	writeJSON(w, http.StatusOK, papersByYearResponse{Range: yr, Total: total, Years: years})
}

func (s *Server) topJournalsHandler(w http.ResponseWriter, r *http.Request) {
	yr, n, ok := s.rangeAndN(w, r, "n")
	if !ok {
		return
	}
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snap.TopJournals(yr, n))
}

func (s *Server) topCodesHandler(w http.ResponseWriter, r *http.Request) {
	yr, n, ok := s.rangeAndN(w, r, "n")
	if !ok {
		return
	}
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snap.TopCodes(yr, n))
}

func (s *Server) trendsHandler(w http.ResponseWriter, r *http.Request) {
	yr, n, ok := s.rangeAndN(w, r, "top")
	if !ok {
		return
	}
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snap.Trends(yr, n))
}

func (s *Server) countriesHandler(w http.ResponseWriter, r *http.Request) {
	yr, err := parseYearRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snap.Countries(yr))
}

func (s *Server) topAuthorsHandler(w http.ResponseWriter, r *http.Request) {
	yr, n, ok := s.rangeAndN(w, r, "n")
	if !ok {
		return
	}
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snap.TopAuthors(yr, n))
}

func (s *Server) keywordsHandler(w http.ResponseWriter, r *http.Request) {
	yr, n, ok := s.rangeAndN(w, r, "n")
	if !ok {
		return
	}
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snap.Keywords(yr, n))
}

type predictRequest struct {
	Text string `json:"text"`
}

func (s *Server) predictHandler(w http.ResponseWriter, r *http.Request) {
	if s.classifier == nil {
		s.metrics.PredictRequests.WithLabelValues("unavailable").Inc()
		writeError(w, http.StatusServiceUnavailable, "classifier not configured")
		return
	}

	var req predictRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPredictBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	res, err := s.classifier.Classify(r.Context(), req.Text)
	if err != nil {
		s.metrics.PredictRequests.WithLabelValues("error").Inc()
		s.logger.Warn().Err(err).Msg("prediction failed")
		status := http.StatusBadGateway
		if classify.IsRateLimited(err) {
			status = http.StatusTooManyRequests
		}
		if errors.Is(err, classify.ErrUnknownSubject) {
			writeError(w, status, err.Error())
			return
		}
		writeError(w, status, "classifier request failed")
		return
	}

	s.metrics.PredictRequests.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, res)
}

// rangeAndN parses from, to and the named count parameter.
func (s *Server) rangeAndN(w http.ResponseWriter, r *http.Request, param string) (dashboard.YearRange, int, bool) {
	yr, err := parseYearRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return yr, 0, false
	}
	n, err := parseN(r, param)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return yr, 0, false
	}
	return yr, n, true
}

func parseYearRange(r *http.Request) (dashboard.YearRange, error) {
	var yr dashboard.YearRange
	var err error
	if yr.From, err = intParam(r, "from", 0); err != nil {
		return yr, err
	}
	if yr.To, err = intParam(r, "to", 0); err != nil {
		return yr, err
	}
	if yr.From < 0 || yr.To < 0 {
		return yr, fmt.Errorf("years must be positive")
	}
	if yr.From != 0 && yr.To != 0 && yr.From > yr.To {
		return yr, fmt.Errorf("from (%d) is after to (%d)", yr.From, yr.To)
	}
	return yr, nil
}

func parseN(r *http.Request, name string) (int, error) {
	n, err := intParam(r, name, DefaultTopN)
	if err != nil {
		return 0, err
	}
	if n < 1 || n > MaxTopN {
		return 0, fmt.Errorf("%s must be between 1 and %d", name, MaxTopN)
	}
	return n, nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return v, nil
}
