package catalog

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

type mockCatalogService struct {
	listCategoriesFn func(ctx context.Context, activeOnly bool) ([]Category, error)
	createCategoryFn func(ctx context.Context, name string) (*Category, error)
	updateCategoryFn func(ctx context.Context, id int64, name string, isActive bool) (*Category, error)
	deleteCategoryFn func(ctx context.Context, id int64) error

	listTestsFn  func(ctx context.Context, categoryID int64, activeOnly bool) ([]TestSummary, error)
	getTestFn    func(ctx context.Context, id int64) (*TestSummary, error)
	createTestFn func(ctx context.Context, in TestInput) (*TestSummary, error)
	updateTestFn func(ctx context.Context, id int64, in TestInput) (*TestSummary, error)
	deleteTestFn func(ctx context.Context, id int64) error

	listQuestionsFn  func(ctx context.Context, testID int64) ([]QuestionDetail, error)
	createQuestionFn func(ctx context.Context, testID int64, in QuestionInput) (*QuestionDetail, error)
	updateQuestionFn func(ctx context.Context, testID, questionID int64, in QuestionInput) (*QuestionDetail, error)
	deleteQuestionFn func(ctx context.Context, testID, questionID int64) error
	importFn         func(ctx context.Context, testID int64, r io.Reader) (*QuestionImportReport, error)

	listMaterialsFn  func(ctx context.Context, categoryID int64, activeOnly bool) ([]Material, error)
	createMaterialFn func(ctx context.Context, in MaterialInput) (*Material, error)
	updateMaterialFn func(ctx context.Context, id int64, in MaterialInput) (*Material, error)
	deleteMaterialFn func(ctx context.Context, id int64) error
}

func (m *mockCatalogService) ListCategories(ctx context.Context, activeOnly bool) ([]Category, error) {
	if m.listCategoriesFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.listCategoriesFn(ctx, activeOnly)
}

func (m *mockCatalogService) CreateCategory(ctx context.Context, name string) (*Category, error) {
	if m.createCategoryFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.createCategoryFn(ctx, name)
}

func (m *mockCatalogService) UpdateCategory(ctx context.Context, id int64, name string, isActive bool) (*Category, error) {
	if m.updateCategoryFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.updateCategoryFn(ctx, id, name, isActive)
}

func (m *mockCatalogService) DeleteCategory(ctx context.Context, id int64) error {
	if m.deleteCategoryFn == nil {
		return errors.New("not implemented")
	}
	return m.deleteCategoryFn(ctx, id)
}

func (m *mockCatalogService) ListTests(ctx context.Context, categoryID int64, activeOnly bool) ([]TestSummary, error) {
	if m.listTestsFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.listTestsFn(ctx, categoryID, activeOnly)
}

func (m *mockCatalogService) GetTest(ctx context.Context, id int64) (*TestSummary, error) {
	if m.getTestFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getTestFn(ctx, id)
}

func (m *mockCatalogService) CreateTest(ctx context.Context, in TestInput) (*TestSummary, error) {
	if m.createTestFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.createTestFn(ctx, in)
}

func (m *mockCatalogService) UpdateTest(ctx context.Context, id int64, in TestInput) (*TestSummary, error) {
	if m.updateTestFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.updateTestFn(ctx, id, in)
}

func (m *mockCatalogService) DeleteTest(ctx context.Context, id int64) error {
	if m.deleteTestFn == nil {
		return errors.New("not implemented")
	}
	return m.deleteTestFn(ctx, id)
}

func (m *mockCatalogService) ListQuestions(ctx context.Context, testID int64) ([]QuestionDetail, error) {
	if m.listQuestionsFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.listQuestionsFn(ctx, testID)
}

func (m *mockCatalogService) CreateQuestion(ctx context.Context, testID int64, in QuestionInput) (*QuestionDetail, error) {
	if m.createQuestionFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.createQuestionFn(ctx, testID, in)
}

func (m *mockCatalogService) UpdateQuestion(ctx context.Context, testID, questionID int64, in QuestionInput) (*QuestionDetail, error) {
	if m.updateQuestionFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.updateQuestionFn(ctx, testID, questionID, in)
}

func (m *mockCatalogService) DeleteQuestion(ctx context.Context, testID, questionID int64) error {
	if m.deleteQuestionFn == nil {
		return errors.New("not implemented")
	}
	return m.deleteQuestionFn(ctx, testID, questionID)
}

func (m *mockCatalogService) ImportQuestionsExcel(ctx context.Context, testID int64, r io.Reader) (*QuestionImportReport, error) {
	if m.importFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.importFn(ctx, testID, r)
}

func (m *mockCatalogService) ListMaterials(ctx context.Context, categoryID int64, activeOnly bool) ([]Material, error) {
	if m.listMaterialsFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.listMaterialsFn(ctx, categoryID, activeOnly)
}

func (m *mockCatalogService) CreateMaterial(ctx context.Context, in MaterialInput) (*Material, error) {
	if m.createMaterialFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.createMaterialFn(ctx, in)
}

func (m *mockCatalogService) UpdateMaterial(ctx context.Context, id int64, in MaterialInput) (*Material, error) {
	if m.updateMaterialFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.updateMaterialFn(ctx, id, in)
}

func (m *mockCatalogService) DeleteMaterial(ctx context.Context, id int64) error {
	if m.deleteMaterialFn == nil {
		return errors.New("not implemented")
	}
	return m.deleteMaterialFn(ctx, id)
}

func withChiParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestCreateTestDefaultsActive(t *testing.T) {
	var got TestInput
	h := NewHandler(&mockCatalogService{
		createTestFn: func(ctx context.Context, in TestInput) (*TestSummary, error) {
			got = in
			return &TestSummary{ID: 1, Title: in.Title}, nil
		},
	})

	payload := []byte(`{"title":"Math Practice","duration_minutes":45}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/tests", bytes.NewReader(payload))
	w := httptest.NewRecorder()

	h.CreateTest(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	if !got.IsActive {
		t.Fatalf("is_active should default to true when omitted")
	}
	if got.DurationMinutes != 45 {
		t.Fatalf("expected duration 45, got %d", got.DurationMinutes)
	}
}

func TestCreateCategoryConflict(t *testing.T) {
	h := NewHandler(&mockCatalogService{
		createCategoryFn: func(ctx context.Context, name string) (*Category, error) {
			return nil, ErrNameTaken
		},
	})

	payload := []byte(`{"name":"Math"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/categories", bytes.NewReader(payload))
	w := httptest.NewRecorder()

	h.CreateCategory(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestDeleteTestLocked(t *testing.T) {
	h := NewHandler(&mockCatalogService{
		deleteTestFn: func(ctx context.Context, id int64) error {
			return ErrTestLocked
		},
	})

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/admin/tests/4", nil)
	req = withChiParam(req, "id", "4")
	w := httptest.NewRecorder()

	h.DeleteTest(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestUpdateQuestionBadID(t *testing.T) {
	h := NewHandler(&mockCatalogService{})

	req := httptest.NewRequest(http.MethodPut, "/api/v1/admin/tests/4/questions/zero", nil)
	req = withChiParam(req, "id", "4")
	req = withChiParam(req, "questionID", "zero")
	w := httptest.NewRecorder()

	h.UpdateQuestion(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestImportQuestionsRequiresFile(t *testing.T) {
	h := NewHandler(&mockCatalogService{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/tests/4/questions/import", nil)
	req = withChiParam(req, "id", "4")
	w := httptest.NewRecorder()

	h.ImportQuestions(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
