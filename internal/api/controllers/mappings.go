package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v5"

	"github.com/downlee/downlee/internal/app"
	"github.com/downlee/downlee/internal/domain"
)

type MappingsController struct {
	App *app.Context
}

type mappingRequest struct {
	SourceTag        string `json:"source_tag"`
	Folder           string `json:"folder"`
	Quality          string `json:"quality"`
	AccessRestricted bool   `json:"access_restricted"`
}

func (req *mappingRequest) normalize() error {
	req.SourceTag = strings.ToLower(strings.TrimSpace(req.SourceTag))
	req.Folder = strings.TrimSpace(req.Folder)
	if req.SourceTag == "" {
		return errors.New("source_tag is required")
	}
	if req.Folder == "" {
		return errors.New("folder is required")
	}
	return nil
}

func (ctrl *MappingsController) List(c *echo.Context) error {
	routes, err := ctrl.App.Store.Routes()
	if err != nil {
		ctrl.App.Logger.Error("mapping listing failed: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "listing failed"})
	}
	return c.JSON(http.StatusOK, routes)
}

func (ctrl *MappingsController) Create(c *echo.Context) error {
	var req mappingRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if err := req.normalize(); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	route, err := ctrl.App.Store.CreateRoute(&domain.SourceRoute{
		SourceTag:        req.SourceTag,
		Folder:           req.Folder,
		Quality:          req.Quality,
		AccessRestricted: req.AccessRestricted,
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return c.JSON(http.StatusConflict, map[string]string{"error": "a mapping for this source already exists"})
		}
		ctrl.App.Logger.Error("mapping create failed: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "create failed"})
	}
	return c.JSON(http.StatusOK, route)
}

func (ctrl *MappingsController) Update(c *echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid mapping id"})
	}

	var req mappingRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if err := req.normalize(); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	route := &domain.SourceRoute{
		ID:               id,
		SourceTag:        req.SourceTag,
		Folder:           req.Folder,
		Quality:          req.Quality,
		AccessRestricted: req.AccessRestricted,
	}
	if err := ctrl.App.Store.UpdateRoute(route); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "mapping not found"})
		}
		ctrl.App.Logger.Error("mapping update failed: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "update failed"})
	}
	return c.JSON(http.StatusOK, route)
}

func (ctrl *MappingsController) Delete(c *echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid mapping id"})
	}

	if err := ctrl.App.Store.DeleteRoute(id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "mapping not found"})
		}
		ctrl.App.Logger.Error("mapping delete failed: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "delete failed"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "deleted"})
}
