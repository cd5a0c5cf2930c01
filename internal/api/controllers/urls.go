package controllers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v5"

	"github.com/downlee/downlee/internal/app"
	"github.com/downlee/downlee/internal/extractor"
	"github.com/downlee/downlee/internal/urldl"
)

type URLController struct {
	App    *app.Context
	Intake *urldl.Intake
}

type checkRequest struct {
	URL string `json:"url"`
}

// Check probes a URL and returns its metadata and format list without
// starting anything.
func (ctrl *URLController) Check(c *echo.Context) error {
	var req checkRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if !validURL(req.URL) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "a http(s) url is required"})
	}

	info, err := ctrl.Intake.Probe(c.Request().Context(), req.URL)
	if err != nil {
		return probeErrorResponse(c, err)
	}
	return c.JSON(http.StatusOK, info)
}

type downloadRequest struct {
	URL        string `json:"url"`
	FormatID   string `json:"format_id"`
	Title      string `json:"title"`
	Ext        string `json:"ext"`
	Resolution string `json:"resolution"`
	Filesize   int64  `json:"filesize"`
}

// Download creates a URL job and starts its worker. Metadata from an earlier
// Check may be passed through to skip the second probe.
func (ctrl *URLController) Download(c *echo.Context) error {
	var req downloadRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if !validURL(req.URL) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "a http(s) url is required"})
	}

	job, err := ctrl.Intake.Start(c.Request().Context(), urldl.StartRequest{
		URL:        req.URL,
		FormatID:   req.FormatID,
		Title:      req.Title,
		Ext:        req.Ext,
		Resolution: req.Resolution,
		Filesize:   req.Filesize,
	})
	if err != nil {
		var perr *extractor.ProbeError
		if errors.As(err, &perr) {
			return probeErrorResponse(c, err)
		}
		ctrl.App.Logger.Error("url download start failed: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to start download"})
	}

	return c.JSON(http.StatusOK, job)
}

func validURL(raw string) bool {
	return strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://")
}

// probeErrorResponse maps a classified extractor rejection to a status code.
func probeErrorResponse(c *echo.Context, err error) error {
	var perr *extractor.ProbeError
	if !errors.As(err, &perr) {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}

	status := http.StatusBadGateway
	switch perr.Kind {
	case extractor.FailureUnsupported:
		status = http.StatusUnprocessableEntity
	case extractor.FailureUnavailable:
		status = http.StatusNotFound
	case extractor.FailureRestricted:
		status = http.StatusForbidden
	}
	return c.JSON(status, map[string]string{
		"error": perr.Message,
		"kind":  string(perr.Kind),
	})
}
