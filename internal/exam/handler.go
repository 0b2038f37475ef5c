package exam

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"examprep/internal/app/apiresp"
	"examprep/internal/auth"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc examService
}

type examService interface {
	StartSession(ctx context.Context, testID, userID int64) (*SessionView, error)
	GetSession(ctx context.Context, sessionID string, userID int64) (*SessionView, error)
	ResumeSession(ctx context.Context, sessionID string, userID int64) (*SessionView, error)
	RestartSession(ctx context.Context, sessionID string, userID int64) (*SessionView, error)
	SetAnswer(ctx context.Context, sessionID string, userID, questionID int64, option string) error
	ClearAnswer(ctx context.Context, sessionID string, userID, questionID int64) error
	ToggleFlag(ctx context.Context, sessionID string, userID, questionID int64) (bool, error)
	NextQuestion(ctx context.Context, sessionID string, userID int64) (*SessionView, error)
	PrevQuestion(ctx context.Context, sessionID string, userID int64) (*SessionView, error)
	GoToQuestion(ctx context.Context, sessionID string, userID int64, index int) (*SessionView, error)
	PauseSession(ctx context.Context, sessionID string, userID int64) (*SessionView, error)
	ExitSession(ctx context.Context, sessionID string, userID int64) error
	SubmitSession(ctx context.Context, sessionID string, userID int64) (*AttemptResult, error)
	GetAttemptResult(ctx context.Context, attemptID int64) (*AttemptResult, error)
	GetAttemptAccess(ctx context.Context, attemptID int64) (int64, string, error)
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type setAnswerRequest struct {
	SelectedOption string `json:"selected_option"`
}

type goToRequest struct {
	Index int `json:"index"`
}

func NewHandler(svc examService) *Handler {
	return &Handler{svc: svc}
}

// currentUserID is 0 for anonymous mock-test takers; session routes
// accept both.
func currentUserID(r *http.Request) int64 {
	if user, ok := auth.CurrentUser(r.Context()); ok {
		return user.ID
	}
	return 0
}

func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	testID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || testID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid test id"})
		return
	}

	view, err := h.svc.StartSession(r.Context(), testID, currentUserID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: view})
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.GetSession(r.Context(), chi.URLParam(r, "sid"), currentUserID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: view})
}

func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.ResumeSession(r.Context(), chi.URLParam(r, "sid"), currentUserID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: view})
}

func (h *Handler) Restart(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.RestartSession(r.Context(), chi.URLParam(r, "sid"), currentUserID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: view})
}

func (h *Handler) SetAnswer(w http.ResponseWriter, r *http.Request) {
	questionID, err := strconv.ParseInt(chi.URLParam(r, "questionID"), 10, 64)
	if err != nil || questionID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid question id"})
		return
	}

	var req setAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}
	if strings.TrimSpace(req.SelectedOption) == "" {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "selected_option is required"})
		return
	}

	if err := h.svc.SetAnswer(r.Context(), chi.URLParam(r, "sid"), currentUserID(r), questionID, req.SelectedOption); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]string{"status": "saved"}})
}

func (h *Handler) ClearAnswer(w http.ResponseWriter, r *http.Request) {
	questionID, err := strconv.ParseInt(chi.URLParam(r, "questionID"), 10, 64)
	if err != nil || questionID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid question id"})
		return
	}

	if err := h.svc.ClearAnswer(r.Context(), chi.URLParam(r, "sid"), currentUserID(r), questionID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]string{"status": "cleared"}})
}

func (h *Handler) ToggleFlag(w http.ResponseWriter, r *http.Request) {
	questionID, err := strconv.ParseInt(chi.URLParam(r, "questionID"), 10, 64)
	if err != nil || questionID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid question id"})
		return
	}

	flagged, err := h.svc.ToggleFlag(r.Context(), chi.URLParam(r, "sid"), currentUserID(r), questionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]bool{"flagged": flagged}})
}

func (h *Handler) Next(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.NextQuestion(r.Context(), chi.URLParam(r, "sid"), currentUserID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: view})
}

func (h *Handler) Prev(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.PrevQuestion(r.Context(), chi.URLParam(r, "sid"), currentUserID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: view})
}

func (h *Handler) GoTo(w http.ResponseWriter, r *http.Request) {
	var req goToRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}

	view, err := h.svc.GoToQuestion(r.Context(), chi.URLParam(r, "sid"), currentUserID(r), req.Index)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: view})
}

func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.PauseSession(r.Context(), chi.URLParam(r, "sid"), currentUserID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: view})
}

func (h *Handler) Exit(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ExitSession(r.Context(), chi.URLParam(r, "sid"), currentUserID(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]string{"status": "saved"}})
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.SubmitSession(r.Context(), chi.URLParam(r, "sid"), currentUserID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: result})
}

func (h *Handler) Result(w http.ResponseWriter, r *http.Request) {
	attemptID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || attemptID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid attempt id"})
		return
	}

	if err := h.authorizeAttemptAccess(r, attemptID); err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.svc.GetAttemptResult(r.Context(), attemptID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: result})
}

// authorizeAttemptAccess lets admins through, then owners, then holders
// of an anonymous attempt's client token.
func (h *Handler) authorizeAttemptAccess(r *http.Request, attemptID int64) error {
	user, authed := auth.CurrentUser(r.Context())
	if authed && user.Role == "admin" {
		return nil
	}

	ownerID, clientToken, err := h.svc.GetAttemptAccess(r.Context(), attemptID)
	if err != nil {
		return err
	}

	if ownerID > 0 {
		if authed && user.ID == ownerID {
			return nil
		}
		return ErrSessionForbidden
	}

	token := strings.TrimSpace(r.URL.Query().Get("client_token"))
	if clientToken != "" && token == clientToken {
		return nil
	}
	return ErrSessionForbidden
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrTestNotFound),
		errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrAttemptNotFound),
		errors.Is(err, ErrResultNotFound):
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: err.Error()})
	case errors.Is(err, ErrSessionForbidden):
		writeJSON(w, r, http.StatusForbidden, response{OK: false, Error: "forbidden"})
	case errors.Is(err, ErrSessionState):
		writeJSON(w, r, http.StatusConflict, response{OK: false, Error: err.Error()})
	case errors.Is(err, ErrAnswerRequired),
		errors.Is(err, ErrNoSuchQuestion),
		errors.Is(err, ErrQuestionNotInTest):
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
	case errors.Is(err, ErrSnapshotUnavailable):
		writeJSON(w, r, http.StatusServiceUnavailable, response{OK: false, Error: "failed to save progress, please try again"})
	default:
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload response) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}
