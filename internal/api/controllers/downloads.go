package controllers

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/labstack/echo/v5"

	"github.com/downlee/downlee/internal/app"
	"github.com/downlee/downlee/internal/domain"
	"github.com/downlee/downlee/internal/store"
	"github.com/downlee/downlee/internal/urldl"
)

type DownloadsController struct {
	App       *app.Context
	URLIntake *urldl.Intake
}

type listResponse struct {
	Downloads []*domain.Job `json:"downloads"`
	Total     int           `json:"total"`
	HasMore   bool          `json:"has_more"`
}

// List returns a filtered, sorted page of jobs.
func (ctrl *DownloadsController) List(c *echo.Context) error {
	q := store.ListQuery{
		Search:    c.QueryParam("search"),
		Filter:    c.QueryParam("filter"),
		SortBy:    c.QueryParam("sort_by"),
		SortOrder: c.QueryParam("sort_order"),
	}
	if v, err := strconv.Atoi(c.QueryParam("limit")); err == nil {
		q.Limit = v
	}
	if v, err := strconv.Atoi(c.QueryParam("offset")); err == nil {
		q.Offset = v
	}

	// exclude_mapping_ids hides sources behind their routing entries, so the
	// client never learns the tags of restricted mappings it excluded.
	if raw := c.QueryParam("exclude_mapping_ids"); raw != "" {
		var ids []int64
		for _, part := range strings.Split(raw, ",") {
			if id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64); err == nil {
				ids = append(ids, id)
			}
		}
		tags, err := ctrl.App.Store.TagsForRouteIDs(ids)
		if err != nil {
			ctrl.App.Logger.Error("mapping exclusion lookup failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "listing failed"})
		}
		q.ExcludeTags = tags
	}

	jobs, total, hasMore, err := ctrl.App.Store.ListJobs(q)
	if err != nil {
		ctrl.App.Logger.Error("download listing failed: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "listing failed"})
	}

	return c.JSON(http.StatusOK, listResponse{Downloads: jobs, Total: total, HasMore: hasMore})
}

func (ctrl *DownloadsController) Stats(c *echo.Context) error {
	stats, err := ctrl.App.Store.Stats()
	if err != nil {
		ctrl.App.Logger.Error("stats aggregation failed: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "stats failed"})
	}
	return c.JSON(http.StatusOK, stats)
}

type retryRequest struct {
	ID int64 `json:"id"`
}

type stopRequest struct {
	ExternalID string `json:"external_id"`
}

type deleteRequest struct {
	ExternalID string `json:"external_id"`
	DeleteFile bool   `json:"delete_file"`
}

// Retry moves a failed or stopped job back to downloading. The request
// carries the numeric row id. URL jobs resume from their partial artifact;
// chat jobs only re-arm the record, since the provider session cannot replay
// an old message.
func (ctrl *DownloadsController) Retry(c *echo.Context) error {
	var req retryRequest
	if err := c.Bind(&req); err != nil || req.ID == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing download id"})
	}

	job, err := ctrl.App.Store.JobByID(req.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "download not found"})
		}
		ctrl.App.Logger.Error("lookup failed for id %d: %v", req.ID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
	}
	if !job.Status.Retryable() {
		return c.JSON(http.StatusConflict, map[string]string{"error": "download is not in a retryable state"})
	}
	if ctrl.App.Registry.Contains(job.ExternalID) {
		return c.JSON(http.StatusConflict, map[string]string{"error": "download is already active"})
	}

	status := domain.StatusDownloading
	patch := domain.JobPatch{Status: &status, ClearError: true}
	if job.Kind() == domain.KindChat {
		progress := 0.0
		var zero int64
		speed := 0.0
		patch.Progress = &progress
		patch.DownloadedBytes = &zero
		patch.Speed = &speed
		patch.ClearPending = true
	}
	if err := ctrl.App.Store.UpdateJobByExternalID(job.ExternalID, patch); err != nil {
		ctrl.App.Logger.Error("retry update failed for %s: %v", job.ExternalID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "retry failed"})
	}
	ctrl.App.EmitStatus(job.ExternalID, domain.StatusDownloading, "")

	if job.Kind() == domain.KindURL {
		if err := ctrl.URLIntake.Resume(job); err != nil {
			ctrl.App.Logger.Error("resume failed for %s: %v", job.ExternalID, err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "resume failed"})
		}
	}

	fresh, err := ctrl.App.Store.JobByExternalID(job.ExternalID)
	if err != nil {
		fresh = job
	}
	return c.JSON(http.StatusOK, fresh)
}

// Stop cancels a running download. Stopping an already terminal job is a
// no-op success; a stale downloading row with no live worker is reconciled
// here.
func (ctrl *DownloadsController) Stop(c *echo.Context) error {
	var req stopRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	job, err := ctrl.jobByExternalID(c, req.ExternalID)
	if job == nil {
		return err
	}

	if ctrl.App.Registry.Cancel(job.ExternalID) {
		// The worker observes the cancellation and writes the terminal record
		// itself; reporting stopped here would race it.
		return c.JSON(http.StatusOK, map[string]string{"status": "stopping"})
	}

	if job.Status == domain.StatusDownloading {
		status := domain.StatusStopped
		speed := 0.0
		if err := ctrl.App.Store.UpdateJobByExternalID(job.ExternalID, domain.JobPatch{Status: &status, Speed: &speed}); err != nil {
			ctrl.App.Logger.Error("stop update failed for %s: %v", job.ExternalID, err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "stop failed"})
		}
		ctrl.App.EmitStatus(job.ExternalID, domain.StatusStopped, "")
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "stopped"})
}

// Delete cancels any live worker, soft-deletes the record and optionally
// removes the artifact when delete_file is set. Repeating a delete succeeds.
func (ctrl *DownloadsController) Delete(c *echo.Context) error {
	var req deleteRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	job, err := ctrl.jobByExternalID(c, req.ExternalID)
	if job == nil {
		return err
	}

	ctrl.App.Registry.Cancel(job.ExternalID)

	if req.DeleteFile {
		if path, ok := ctrl.App.Routing.LocateArtifact(job); ok {
			if err := os.Remove(path); err != nil {
				ctrl.App.Logger.Warn("artifact removal failed for %s: %v", job.ExternalID, err)
			} else {
				deleted := true
				_ = ctrl.App.Store.UpdateJobByExternalID(job.ExternalID, domain.JobPatch{FileDeleted: &deleted})
			}
		}
	}

	if err := ctrl.App.Store.SoftDeleteByExternalID(job.ExternalID); err != nil {
		ctrl.App.Logger.Error("delete failed for %s: %v", job.ExternalID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "delete failed"})
	}
	ctrl.App.EmitDeleted(job.ExternalID)

	return c.JSON(http.StatusOK, map[string]string{"status": "deleted"})
}

// jobByExternalID resolves the external id from a request body. A nil job
// means the error response has already been written; propagate the returned
// error.
func (ctrl *DownloadsController) jobByExternalID(c *echo.Context, externalID string) (*domain.Job, error) {
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
