// Package web exposes the HTTP control plane: imports, sync triggers,
// and read access to the reconciled view. It is a thin layer; all
// semantics live in reconcile, syncer and view.
package web

import (
	"context"
	"errors"
	"io"
	"mime/multipart"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	appLog "coursecal/internal/log"
	"coursecal/internal/model"
	"coursecal/internal/reconcile"
	"coursecal/internal/store"
	"coursecal/internal/syncer"
	"coursecal/internal/view"
)

// Server wires the fiber app to the core services.
type Server struct {
	app      *fiber.App
	engine   *reconcile.Engine
	syn      *syncer.Syncer
	st       store.Store
	vw       *view.View
	validate *validator.Validate
}

func NewServer(engine *reconcile.Engine, syn *syncer.Syncer, st store.Store, vw *view.View) *Server {
	s := &Server{
		app: fiber.New(fiber.Config{
			AppName:               "coursecal",
			DisableStartupMessage: true,
		}),
		engine:   engine,
		syn:      syn,
		st:       st,
		vw:       vw,
		validate: validator.New(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := s.app.Group("/api")

	api.Post("/import", s.handleImport)

	api.Post("/sync", s.handleSync)
	api.Get("/sync/status", s.handleSyncStatus)
	api.Put("/sync/interval", s.handleSetInterval)

	api.Get("/events", s.handleEvents)
	api.Put("/events/:id/complete", s.handleCompleteEvent)

	api.Get("/courses", s.handleCourses)
	api.Put("/courses/:id/active", s.handleCourseActive)
	api.Post("/courses/show-all", s.handleShowAll)
	api.Post("/courses/hide-all", s.handleHideAll)
	api.Delete("/courses/:id", s.handleDeleteCourse)
}

// Listen serves until Shutdown.
func (s *Server) Listen(addr string) error {
	appLog.Info("http listening", "addr", addr)
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

type importFileReq struct {
	FileName string `json:"fileName" validate:"required"`
	Content  string `json:"content" validate:"required"`
}

type importReq struct {
	Files []importFileReq `json:"files" validate:"required,min=1,dive"`
}

// handleImport accepts either a JSON body with inline file contents or
// a multipart form with a "files" field.
func (s *Server) handleImport(c *fiber.Ctx) error {
	files, err := s.importSources(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	reports, err := s.engine.ImportFiles(c.Context(), files)
	if err != nil {
		// Store failure: the batch must not be reported as a success.
		appLog.Error("import batch write failed", err)
		return internalError(c, "import failed: storage error")
	}
	if err := s.syn.Refresh(c.Context()); err != nil {
		return internalError(c, "import succeeded but view refresh failed")
	}
	return c.JSON(fiber.Map{"reports": reports})
}

func (s *Server) importSources(c *fiber.Ctx) ([]reconcile.FileSource, error) {
	if form, err := c.MultipartForm(); err == nil && form != nil && len(form.File["files"]) > 0 {
		var out []reconcile.FileSource
		for _, fh := range form.File["files"] {
			content, err := readFormFile(fh)
			if err != nil {
				return nil, err
			}
			out = append(out, reconcile.FileSource{FileName: fh.Filename, Content: content})
		}
		return out, nil
	}

	var req importReq
	if err := c.BodyParser(&req); err != nil {
		return nil, errors.New("invalid request body")
	}
	if err := s.validate.Struct(&req); err != nil {
		return nil, err
	}
	out := make([]reconcile.FileSource, 0, len(req.Files))
	for _, f := range req.Files {
		out = append(out, reconcile.FileSource{FileName: f.FileName, Content: f.Content})
	}
	return out, nil
}

func readFormFile(fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

type syncReq struct {
	Credentials string `json:"credentials"`
}

func (s *Server) handleSync(c *fiber.Ctx) error {
	var req syncReq
	_ = c.BodyParser(&req) // empty body means "use configured credentials"

	res, err := s.syn.SyncNow(c.Context(), req.Credentials)
	if errors.Is(err, syncer.ErrSyncInFlight) {
		return c.Status(fiber.StatusConflict).JSON(res)
	}
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(res)
	}
	return c.JSON(res)
}

func (s *Server) handleSyncStatus(c *fiber.Ctx) error {
	return c.JSON(s.syn.Status())
}

type intervalReq struct {
	Minutes int `json:"minutes" validate:"required,min=1,max=1440"`
}

func (s *Server) handleSetInterval(c *fiber.Ctx) error {
	var req intervalReq
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := s.validate.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}
	if err := s.syn.SetInterval(req.Minutes); err != nil {
		return badRequest(c, err.Error())
	}
	return c.JSON(s.syn.Status())
}

func (s *Server) handleEvents(c *fiber.Ctx) error {
	return c.JSON(s.vw.Snapshot())
}

func (s *Server) handleCourses(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"courses": s.vw.Snapshot().Courses})
}

type courseActiveReq struct {
	IsActive *bool `json:"isActive" validate:"required"`
}

func (s *Server) handleCourseActive(c *fiber.Ctx) error {
	id := c.Params("id")

	var req courseActiveReq
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := s.validate.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	courses, err := s.st.GetAllCourses(c.Context())
	if err != nil {
		return internalError(c, "failed to load courses")
	}
	found := false
	for i := range courses {
		if courses[i].ID == id {
			courses[i].IsActive = *req.IsActive
			found = true
		}
	}
	if !found {
		return notFound(c, "course not found")
	}
	if err := s.st.BulkUpsertCourses(c.Context(), courses); err != nil {
		return internalError(c, "failed to persist course")
	}
	return s.syncViewFilter(c, courses)
}

func (s *Server) handleShowAll(c *fiber.Ctx) error {
	return s.setAllActive(c, true)
}

func (s *Server) handleHideAll(c *fiber.Ctx) error {
	return s.setAllActive(c, false)
}

func (s *Server) setAllActive(c *fiber.Ctx, active bool) error {
	courses, err := s.st.GetAllCourses(c.Context())
	if err != nil {
		return internalError(c, "failed to load courses")
	}
	for i := range courses {
		courses[i].IsActive = active
	}
	if err := s.st.BulkUpsertCourses(c.Context(), courses); err != nil {
		return internalError(c, "failed to persist courses")
	}
	return s.syncViewFilter(c, courses)
}

// syncViewFilter pushes persisted IsActive flags into the view's filter.
// No active course at all is an explicit hide, not "unfiltered".
func (s *Server) syncViewFilter(c *fiber.Ctx, courses []model.Course) error {
	var active []string
	for _, course := range courses {
		if course.IsActive {
			active = append(active, course.ID)
		}
	}
	if len(active) == 0 && len(courses) > 0 {
		s.vw.HideAll()
	} else {
		s.vw.SetActive(active)
	}
	if err := s.refreshView(c.Context()); err != nil {
		return internalError(c, "view refresh failed")
	}
	return c.JSON(s.vw.Snapshot())
}

func (s *Server) handleCompleteEvent(c *fiber.Ctx) error {
	id := c.Params("id")

	events, err := s.st.GetAllEvents(c.Context())
	if err != nil {
		return internalError(c, "failed to load events")
	}
	var target *model.Event
	for i := range events {
		if events[i].ID == id {
			target = &events[i]
			break
		}
	}
	if target == nil {
		return notFound(c, "event not found")
	}

	target.Status = model.StatusCompleted
	if err := s.st.BulkUpsertEvents(c.Context(), []model.Event{*target}); err != nil {
		return internalError(c, "failed to persist event")
	}
	if err := s.refreshView(c.Context()); err != nil {
		return internalError(c, "view refresh failed")
	}
	return c.JSON(target)
}

func (s *Server) handleDeleteCourse(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := s.st.DeleteCourse(c.Context(), id, true); err != nil {
		return internalError(c, "failed to delete course")
	}
	if err := s.refreshView(c.Context()); err != nil {
		return internalError(c, "view refresh failed")
	}
	return c.JSON(fiber.Map{"deleted": id})
}

func (s *Server) refreshView(ctx context.Context) error {
	return s.syn.Refresh(ctx)
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

func notFound(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": msg})
}

func internalError(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": msg})
}
