// Package api serves calibration runs and module scales over HTTP.
package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/qcal/internal/calibrate"
	"github.com/samcharles93/qcal/internal/dataset"
	"github.com/samcharles93/qcal/internal/logger"
	"github.com/samcharles93/qcal/internal/model"
	"github.com/samcharles93/qcal/internal/report"
	"github.com/samcharles93/qcal/internal/version"
)

type CalibrationRequest struct {
	Batches  []dataset.Batch `json:"batches"`
	Passes   *int            `json:"passes,omitempty"`
	Momentum *float32        `json:"momentum,omitempty"`
}

type ScalesResponse struct {
	Model   string          `json:"model"`
	Modules []report.Module `json:"modules"`
}

type ReportList struct {
	Object string           `json:"object"`
	Data   []*report.Report `json:"data"`
}

type Config struct {
	Model    *model.Model
	Store    *ReportStore
	Momentum float32
	Logger   logger.Logger
}

// Server runs calibrations against one model. Runs are serialised: the
// model's scales are shared state.
type Server struct {
	model    *model.Model
	store    *ReportStore
	momentum float32
	log      logger.Logger
	clock    func() time.Time

	mu sync.Mutex
}

func NewServer(cfg Config) *Server {
	s := &Server{
		model:    cfg.Model,
		store:    cfg.Store,
		momentum: cfg.Momentum,
		log:      cfg.Logger,
		clock:    time.Now,
	}
	if s.store == nil {
		s.store = NewReportStore(0)
	}
	if s.momentum == 0 {
		s.momentum = calibrate.DefaultMomentum
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	return s
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.POST("/v1/calibrations", s.handleCreateCalibration)
	e.GET("/v1/calibrations", s.handleListCalibrations)
	e.GET("/v1/calibrations/:id", s.handleGetCalibration)
	e.GET("/v1/scales", s.handleScales)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"model":   s.model.Spec.Name,
		"version": version.String(),
	})
}

func (s *Server) handleCreateCalibration(c *echo.Context) error {
	req, err := decodeJSON[CalibrationRequest](c.Request().Body)
	if err != nil {
		return writeFailure(c, err)
	}
	ds, err := dataset.New(req.Batches)
	if err != nil {
		return writeFailure(c, err)
	}
	passes := 1
	if req.Passes != nil {
		passes = *req.Passes
	}
	momentum := s.momentum
	if req.Momentum != nil {
		momentum = *req.Momentum
	}
	cal, err := calibrate.New(calibrate.WithMomentum(momentum), calibrate.WithLogger(s.log))
	if err != nil {
		return writeFailure(c, err)
	}

	if !s.mu.TryLock() {
		return writeError(c, http.StatusConflict, "conflict_error", "a calibration is already running", "busy")
	}
	defer s.mu.Unlock()

	started := s.clock()
	if err := cal.Calibrate(c.Request().Context(), s.model.Root, ds.Batches, passes); err != nil {
		s.log.Warn("calibration failed", "error", err)
		return writeFailure(c, err)
	}
	rep := report.Collect(report.Run{
		Model:       s.model,
		Calibration: cal,
		Batches:     ds.Len(),
		Passes:      passes,
		StartedAt:   started,
		FinishedAt:  s.clock(),
	})
	s.store.Put(rep)
	s.log.Info("calibration stored", "run_id", rep.RunID, "batches", rep.Batches, "passes", rep.Passes)
	return c.JSON(http.StatusCreated, rep)
}

func (s *Server) handleListCalibrations(c *echo.Context) error {
	return c.JSON(http.StatusOK, ReportList{Object: "list", Data: s.store.List()})
}

func (s *Server) handleGetCalibration(c *echo.Context) error {
	rep, ok := s.store.Get(c.Param("id"))
	if !ok {
		return writeNotFound(c, "calibration not found")
	}
	return c.JSON(http.StatusOK, rep)
}

func (s *Server) handleScales(c *echo.Context) error {
	s.mu.Lock()
	modules := report.Snapshot(s.model)
	s.mu.Unlock()
	return c.JSON(http.StatusOK, ScalesResponse{Model: s.model.Spec.Name, Modules: modules})
}
