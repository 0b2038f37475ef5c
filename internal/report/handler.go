package report

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"examprep/internal/app/apiresp"
	"examprep/internal/auth"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc reportService
}

type reportService interface {
	TestSummary(ctx context.Context, testID int64) (*TestSummary, error)
	ScoreDistribution(ctx context.Context, testID int64) ([]ScoreBucket, error)
	StudentHistory(ctx context.Context, userID int64, limit int) ([]AttemptHistoryItem, error)
}

type apiResponse struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

func NewHandler(svc reportService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) TestSummary(w http.ResponseWriter, r *http.Request) {
	testID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || testID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid test id"})
		return
	}

	item, err := h.svc.TestSummary(r.Context(), testID)
	if err != nil {
		h.writeReportError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: item})
}

func (h *Handler) ScoreDistribution(w http.ResponseWriter, r *http.Request) {
	testID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || testID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid test id"})
		return
	}

	items, err := h.svc.ScoreDistribution(r.Context(), testID)
	if err != nil {
		h.writeReportError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: items})
}

// MyHistory returns the calling student's completed attempts.
func (h *Handler) MyHistory(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}

	items, err := h.svc.StudentHistory(r.Context(), user.ID, queryLimit(r))
	if err != nil {
		h.writeReportError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: items})
}

// StudentHistory is the admin view of any student's attempts.
func (h *Handler) StudentHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || userID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid student id"})
		return
	}

	items, err := h.svc.StudentHistory(r.Context(), userID, queryLimit(r))
	if err != nil {
		h.writeReportError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: items})
}

func (h *Handler) writeReportError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: err.Error()})
	case errors.Is(err, ErrNotFound):
		writeJSON(w, r, http.StatusNotFound, apiResponse{OK: false, Error: err.Error()})
	default:
		writeJSON(w, r, http.StatusInternalServerError, apiResponse{OK: false, Error: "internal error"})
	}
}

func queryLimit(r *http.Request) int {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload apiResponse) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}
