package routes

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/internal/repositories/candidate"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/pipeline"
)

// StatusReader reports pipeline state.
type StatusReader interface {
	Status(ctx context.Context, family models.Family, scopeID string) (pipeline.StatusReport, error)
	ScopeStatuses(ctx context.Context, family models.Family) ([]pipeline.StatusReport, error)
}

// CandidateLister pages through staged candidates.
type CandidateLister interface {
	List(ctx context.Context, family models.Family, filter candidate.ListFilter) ([]models.ExtractionCandidate, error)
}

// FamilyHandler serves the per-family review endpoints.
type FamilyHandler struct {
	status     StatusReader
	candidates CandidateLister
}

func NewFamilyHandler(status StatusReader, candidates CandidateLister) *FamilyHandler {
	return &FamilyHandler{status: status, candidates: candidates}
}

func (h *FamilyHandler) Register(g *echo.Group) {
	g.GET("/status", h.Status)
	g.GET("/scopes", h.Scopes)
	g.GET("/candidates", h.Candidates)
}

func familyParam(c echo.Context) (models.Family, error) {
	family, err := models.ParseFamily(c.Param("family"))
	if err != nil {
		return "", httperror.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return family, nil
}

// Status answers GET /families/:family/status?scope=. Without scope the whole
// family is summed.
func (h *FamilyHandler) Status(c echo.Context) error {
	family, err := familyParam(c)
	if err != nil {
		return err
	}

	scope := c.QueryParam("scope")
	if scope == "" {
		scope = models.AllScopes
	}

	report, err := h.status.Status(c.Request().Context(), family, scope)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

// Scopes answers GET /families/:family/scopes with one report per staged scope.
func (h *FamilyHandler) Scopes(c echo.Context) error {
	family, err := familyParam(c)
	if err != nil {
		return err
	}

	reports, err := h.status.ScopeStatuses(c.Request().Context(), family)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, reports)
}

// Candidates answers GET /families/:family/candidates?scope=&status=&limit=&offset=.
func (h *FamilyHandler) Candidates(c echo.Context) error {
	family, err := familyParam(c)
	if err != nil {
		return err
	}

	filter := candidate.ListFilter{ScopeID: c.QueryParam("scope")}
	if raw := c.QueryParam("status"); raw != "" {
		status, err := models.ParseMatchStatus(raw)
		if err != nil {
			return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		filter.Status = &status
	}
	if filter.Limit, err = intParam(c, "limit"); err != nil {
		return err
	}
	if filter.Offset, err = intParam(c, "offset"); err != nil {
		return err
	}

	rows, err := h.candidates.List(c.Request().Context(), family, filter)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rows)
}

func intParam(c echo.Context, name string) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, httperror.NewHTTPError(http.StatusBadRequest, name+" must be a non-negative integer")
	}
	return n, nil
}
