package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"examprep/internal/app/apiresp"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc catalogService
}

type catalogService interface {
	ListCategories(ctx context.Context, activeOnly bool) ([]Category, error)
	CreateCategory(ctx context.Context, name string) (*Category, error)
	UpdateCategory(ctx context.Context, id int64, name string, isActive bool) (*Category, error)
	DeleteCategory(ctx context.Context, id int64) error

	ListTests(ctx context.Context, categoryID int64, activeOnly bool) ([]TestSummary, error)
	GetTest(ctx context.Context, id int64) (*TestSummary, error)
	CreateTest(ctx context.Context, in TestInput) (*TestSummary, error)
	UpdateTest(ctx context.Context, id int64, in TestInput) (*TestSummary, error)
	DeleteTest(ctx context.Context, id int64) error

	ListQuestions(ctx context.Context, testID int64) ([]QuestionDetail, error)
	CreateQuestion(ctx context.Context, testID int64, in QuestionInput) (*QuestionDetail, error)
	UpdateQuestion(ctx context.Context, testID, questionID int64, in QuestionInput) (*QuestionDetail, error)
	DeleteQuestion(ctx context.Context, testID, questionID int64) error
	ImportQuestionsExcel(ctx context.Context, testID int64, r io.Reader) (*QuestionImportReport, error)

	ListMaterials(ctx context.Context, categoryID int64, activeOnly bool) ([]Material, error)
	CreateMaterial(ctx context.Context, in MaterialInput) (*Material, error)
	UpdateMaterial(ctx context.Context, id int64, in MaterialInput) (*Material, error)
	DeleteMaterial(ctx context.Context, id int64) error
}

type apiResponse struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type categoryRequest struct {
	Name     string `json:"name"`
	IsActive *bool  `json:"is_active"`
}

type testRequest struct {
	CategoryID      int64  `json:"category_id"`
	Title           string `json:"title"`
	DurationMinutes int    `json:"duration_minutes"`
	ScoringPolicy   string `json:"scoring_policy"`
	IsActive        *bool  `json:"is_active"`
}

type questionRequest struct {
	SeqNo         int    `json:"seq_no"`
	Prompt        string `json:"prompt"`
	OptionA       string `json:"option_a"`
	OptionB       string `json:"option_b"`
	OptionC       string `json:"option_c"`
	OptionD       string `json:"option_d"`
	CorrectOption string `json:"correct_option"`
	Explanation   string `json:"explanation"`
}

type materialRequest struct {
	CategoryID int64  `json:"category_id"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	URL        string `json:"url"`
	IsActive   *bool  `json:"is_active"`
}

func NewHandler(svc catalogService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("all") == ""
	items, err := h.svc.ListCategories(r.Context(), activeOnly)
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, apiResponse{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: items})
}

func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}

	item, err := h.svc.CreateCategory(r.Context(), req.Name)
	if err != nil {
		h.writeCatalogError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, apiResponse{OK: true, Data: item})
}

func (h *Handler) UpdateCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "invalid category id")
	if !ok {
		return
	}

	var req categoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}
	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	item, err := h.svc.UpdateCategory(r.Context(), id, req.Name, isActive)
	if err != nil {
		h.writeCatalogError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: item})
}

func (h *Handler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "invalid category id")
	if !ok {
		return
	}
	if err := h.svc.DeleteCategory(r.Context(), id); err != nil {
		h.writeCatalogError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: map[string]string{"status": "deleted"}})
}

func (h *Handler) ListTests(w http.ResponseWriter, r *http.Request) {
	categoryID, _ := strconv.ParseInt(r.URL.Query().Get("category_id"), 10, 64)
	activeOnly := r.URL.Query().Get("all") == ""

	items, err := h.svc.ListTests(r.Context(), categoryID, activeOnly)
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, apiResponse{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: items})
}

func (h *Handler) GetTest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "invalid test id")
	if !ok {
		return
	}
	item, err := h.svc.GetTest(r.Context(), id)
	if err != nil {
		h.writeCatalogError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: item})
}

func (h *Handler) CreateTest(w http.ResponseWriter, r *http.Request) {
	var req testRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}

	item, err := h.svc.CreateTest(r.Context(), testInputFromRequest(req))
	if err != nil {
		h.writeCatalogError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, apiResponse{OK: true, Data: item})
}

func (h *Handler) UpdateTest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "invalid test id")
	if !ok {
		return
	}

	var req testRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}

	item, err := h.svc.UpdateTest(r.Context(), id, testInputFromRequest(req))
	if err != nil {
		h.writeCatalogError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: item})
}

func (h *Handler) DeleteTest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "invalid test id")
	if !ok {
		return
	}
	if err := h.svc.DeleteTest(r.Context(), id); err != nil {
		h.writeCatalogError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: map[string]string{"status": "deleted"}})
}

func (h *Handler) ListQuestions(w http.ResponseWriter, r *http.Request) {
	testID, ok := pathID(w, r, "id", "invalid test id")
	if !ok {
		return
	}
	items, err := h.svc.ListQuestions(r.Context(), testID)
	if err != nil {
		h.writeCatalogError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: items})
}

func (h *Handler) CreateQuestion(w http.ResponseWriter, r *http.Request) {
	testID, ok := pathID(w, r, "id", "invalid test id")
	if !ok {
		return
	}

	var req questionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}

	item, err := h.svc.CreateQuestion(r.Context(), testID, questionInputFromRequest(req))
	if err != nil {
		h.writeCatalogError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, apiResponse{OK: true, Data: item})
}

func (h *Handler) UpdateQuestion(w http.ResponseWriter, r *http.Request) {
	testID, ok := pathID(w, r, "id", "invalid test id")
	if !ok {
		return
	}
	questionID, ok := pathID(w, r, "questionID", "invalid question id")
	if !ok {
		return
	}

	var req questionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}

	item, err := h.svc.UpdateQuestion(r.Context(), testID, questionID, questionInputFromRequest(req))
	if err != nil {
		h.writeCatalogError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: item})
}

func (h *Handler) DeleteQuestion(w http.ResponseWriter, r *http.Request) {
	testID, ok := pathID(w, r, "id", "invalid test id")
	if !ok {
		return
	}
	questionID, ok := pathID(w, r, "questionID", "invalid question id")
	if !ok {
		return
	}
	if err := h.svc.DeleteQuestion(r.Context(), testID, questionID); err != nil {
		h.writeCatalogError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: map[string]string{"status": "deleted"}})
}

func (h *Handler) ImportQuestions(w http.ResponseWriter, r *http.Request) {
	testID, ok := pathID(w, r, "id", "invalid test id")
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(10 << 20); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid multipart form"})
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "file field is required"})
		return
	}
	defer func() { _ = file.Close() }()

	report, err := h.svc.ImportQuestionsExcel(r.Context(), testID, file)
	if err != nil {
		switch {
		case errors.Is(err, ErrTestLocked):
			writeJSON(w, r, http.StatusConflict, apiResponse{OK: false, Error: err.Error()})
		case errors.Is(err, ErrInvalidInput):
			writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: err.Error()})
		default:
			writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: err.Error()})
		}
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: report})
}

func (h *Handler) ListMaterials(w http.ResponseWriter, r *http.Request) {
	categoryID, _ := strconv.ParseInt(r.URL.Query().Get("category_id"), 10, 64)
	activeOnly := r.URL.Query().Get("all") == ""

	items, err := h.svc.ListMaterials(r.Context(), categoryID, activeOnly)
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, apiResponse{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: items})
}

func (h *Handler) CreateMaterial(w http.ResponseWriter, r *http.Request) {
	var req materialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}

	item, err := h.svc.CreateMaterial(r.Context(), materialInputFromRequest(req))
	if err != nil {
		h.writeCatalogError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, apiResponse{OK: true, Data: item})
}

func (h *Handler) UpdateMaterial(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "invalid material id")
	if !ok {
		return
	}

	var req materialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}

	item, err := h.svc.UpdateMaterial(r.Context(), id, materialInputFromRequest(req))
	if err != nil {
		h.writeCatalogError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: item})
}

func (h *Handler) DeleteMaterial(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "invalid material id")
	if !ok {
		return
	}
	if err := h.svc.DeleteMaterial(r.Context(), id); err != nil {
		h.writeCatalogError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: map[string]string{"status": "deleted"}})
}

func (h *Handler) writeCatalogError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: err.Error()})
	case errors.Is(err, ErrNotFound):
		writeJSON(w, r, http.StatusNotFound, apiResponse{OK: false, Error: err.Error()})
	case errors.Is(err, ErrNameTaken):
		writeJSON(w, r, http.StatusConflict, apiResponse{OK: false, Error: err.Error()})
	case errors.Is(err, ErrTestLocked):
		writeJSON(w, r, http.StatusConflict, apiResponse{OK: false, Error: err.Error()})
	default:
		writeJSON(w, r, http.StatusInternalServerError, apiResponse{OK: false, Error: "internal error"})
	}
}

func testInputFromRequest(req testRequest) TestInput {
	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}
	return TestInput{
		CategoryID:      req.CategoryID,
		Title:           req.Title,
		DurationMinutes: req.DurationMinutes,
		ScoringPolicy:   req.ScoringPolicy,
		IsActive:        isActive,
	}
}

func questionInputFromRequest(req questionRequest) QuestionInput {
	return QuestionInput{
		SeqNo:         req.SeqNo,
		Prompt:        req.Prompt,
		OptionA:       req.OptionA,
		OptionB:       req.OptionB,
		OptionC:       req.OptionC,
		OptionD:       req.OptionD,
		CorrectOption: req.CorrectOption,
		Explanation:   req.Explanation,
	}
}

func materialInputFromRequest(req materialRequest) MaterialInput {
	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}
	return MaterialInput{
		CategoryID: req.CategoryID,
		Title:      req.Title,
		Body:       req.Body,
		URL:        req.URL,
		IsActive:   isActive,
	}
}

func pathID(w http.ResponseWriter, r *http.Request, name, message string) (int64, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: message})
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload apiResponse) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}
