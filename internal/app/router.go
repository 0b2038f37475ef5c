package app

import (
	"database/sql"
	"net/http"
	"time"

	"examprep/internal/app/observability"
	"examprep/internal/auth"
	"examprep/internal/catalog"
	"examprep/internal/exam"
	"examprep/internal/report"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(cfg Config, db *sql.DB) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	collector := observability.NewCollector(db)
	r.Use(collector.Middleware)
	r.Use(CSRFMiddleware(cfg.CSRFEnforced))

	authSvc := auth.NewService(db, auth.ServiceConfig{
		SessionTTL: time.Duration(cfg.SessionTTLHours) * time.Hour,
	})
	authHandler := auth.NewHandler(authSvc)

	examSvc := exam.NewService(db, cfg.DefaultTestMinutes)
	examHandler := exam.NewHandler(examSvc)

	catalogSvc := catalog.NewService(db)
	catalogHandler := catalog.NewHandler(catalogSvc)

	reportSvc := report.NewService(db)
	reportHandler := report.NewHandler(reportSvc)

	loginLimiter := NewIPRateLimiter(cfg.AuthRateLimitPerMin, time.Minute)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Get("/metricsz", collector.MetricsHandler)

	r.Route("/api/v1", func(api chi.Router) {
		api.Group(func(login chi.Router) {
			login.Use(RateLimitMiddleware(loginLimiter))
			login.Post("/auth/login", authHandler.Login)
		})

		// Public catalog browsing.
		api.Get("/categories", catalogHandler.ListCategories)
		api.Get("/tests", catalogHandler.ListTests)
		api.Get("/tests/{id}", catalogHandler.GetTest)
		api.Get("/materials", catalogHandler.ListMaterials)

		// Exam sessions work both signed in and anonymously.
		api.Group(func(sessions chi.Router) {
			sessions.Use(authHandler.OptionalAuth)

			sessions.Post("/tests/{id}/session", examHandler.StartSession)
			sessions.Get("/sessions/{sid}", examHandler.GetSession)
			sessions.Post("/sessions/{sid}/resume", examHandler.Resume)
			sessions.Post("/sessions/{sid}/restart", examHandler.Restart)
			sessions.Put("/sessions/{sid}/answers/{questionID}", examHandler.SetAnswer)
			sessions.Delete("/sessions/{sid}/answers/{questionID}", examHandler.ClearAnswer)
			sessions.Post("/sessions/{sid}/flags/{questionID}", examHandler.ToggleFlag)
			sessions.Post("/sessions/{sid}/next", examHandler.Next)
			sessions.Post("/sessions/{sid}/prev", examHandler.Prev)
			sessions.Post("/sessions/{sid}/goto", examHandler.GoTo)
			sessions.Post("/sessions/{sid}/pause", examHandler.Pause)
			sessions.Post("/sessions/{sid}/exit", examHandler.Exit)
			sessions.Post("/sessions/{sid}/submit", examHandler.Submit)
			sessions.Get("/attempts/{id}/result", examHandler.Result)
		})

		api.Group(func(secure chi.Router) {
			secure.Use(authHandler.RequireAuth)
			secure.Get("/auth/me", authHandler.Me)
			secure.Post("/auth/logout", authHandler.Logout)
			secure.Get("/me/history", reportHandler.MyHistory)

			secure.Group(func(admin chi.Router) {
				admin.Use(authHandler.RequireRoles("admin"))

				admin.Get("/admin/students", authHandler.ListStudents)
				admin.Post("/admin/students", authHandler.CreateStudent)
				admin.Put("/admin/students/{id}", authHandler.UpdateStudent)
				admin.Delete("/admin/students/{id}", authHandler.DeactivateStudent)
				admin.Get("/admin/students/export", authHandler.ExportStudents)
				admin.Get("/admin/students/{id}/history", reportHandler.StudentHistory)

				admin.Post("/admin/categories", catalogHandler.CreateCategory)
				admin.Put("/admin/categories/{id}", catalogHandler.UpdateCategory)
				admin.Delete("/admin/categories/{id}", catalogHandler.DeleteCategory)

				admin.Post("/admin/tests", catalogHandler.CreateTest)
				admin.Put("/admin/tests/{id}", catalogHandler.UpdateTest)
				admin.Delete("/admin/tests/{id}", catalogHandler.DeleteTest)

				admin.Get("/admin/tests/{id}/questions", catalogHandler.ListQuestions)
				admin.Post("/admin/tests/{id}/questions", catalogHandler.CreateQuestion)
				admin.Put("/admin/tests/{id}/questions/{questionID}", catalogHandler.UpdateQuestion)
				admin.Delete("/admin/tests/{id}/questions/{questionID}", catalogHandler.DeleteQuestion)
				admin.Post("/admin/tests/{id}/questions/import", catalogHandler.ImportQuestions)

				admin.Post("/admin/materials", catalogHandler.CreateMaterial)
				admin.Put("/admin/materials/{id}", catalogHandler.UpdateMaterial)
				admin.Delete("/admin/materials/{id}", catalogHandler.DeleteMaterial)

				admin.Get("/admin/tests/{id}/summary", reportHandler.TestSummary)
				admin.Get("/admin/tests/{id}/distribution", reportHandler.ScoreDistribution)
			})
		})
	})

	return r
}
