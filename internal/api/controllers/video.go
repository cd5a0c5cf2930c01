package controllers

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/labstack/echo/v5"

	"github.com/downlee/downlee/internal/app"
	"github.com/downlee/downlee/internal/domain"
)

type VideoController struct {
	App *app.Context
}

type videoCheckResponse struct {
	Available   bool   `json:"available"`
	FileDeleted bool   `json:"file_deleted"`
	Filename    string `json:"filename,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// Check reports whether a finished download's artifact is still present on
// disk. A missing artifact is recorded as file_deleted so the client stops
// offering playback.
func (ctrl *VideoController) Check(c *echo.Context) error {
	job, err := ctrl.jobParam(c)
	if job == nil {
		return err
	}

	path, ok := ctrl.App.Routing.LocateArtifact(job)
	if !ok {
		if !job.FileDeleted {
			deleted := true
			_ = ctrl.App.Store.UpdateJobByExternalID(job.ExternalID, domain.JobPatch{FileDeleted: &deleted})
		}
		return c.JSON(http.StatusOK, videoCheckResponse{Available: false, FileDeleted: true})
	}

	info, err := os.Stat(path)
	if err != nil {
		return c.JSON(http.StatusOK, videoCheckResponse{Available: false, FileDeleted: true})
	}

	return c.JSON(http.StatusOK, videoCheckResponse{
		Available: true,
		Filename:  filepath.Base(path),
		Size:      info.Size(),
	})
}

// Stream serves the artifact with full Range support, so seeking works in
// browser players.
func (ctrl *VideoController) Stream(c *echo.Context) error {
	job, err := ctrl.jobParam(c)
	if job == nil {
		return err
	}

	path, ok := ctrl.App.Routing.LocateArtifact(job)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "file not found on disk"})
	}

	f, err := os.Open(path)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "file not found on disk"})
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "stream failed"})
	}

	http.ServeContent(c.Response(), c.Request(), filepath.Base(path), info.ModTime(), f)
	return nil
}

func (ctrl *VideoController) jobParam(c *echo.Context) (*domain.Job, error) {
	externalID := c.Param("external_id")
	if externalID == "" {
		return nil, c.JSON(http.StatusBadRequest, map[string]string{"error": "missing external id"})
	}

	job, err := ctrl.App.Store.JobByExternalID(externalID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, c.JSON(http.StatusNotFound, map[string]string{"error": "download not found"})
		}
		ctrl.App.Logger.Error("lookup failed for %s: %v", externalID, err)
		return nil, c.JSON(http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
	}
	return job, nil
}
