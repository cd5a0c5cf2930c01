package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/downlee/downlee/internal/app"
	"github.com/downlee/downlee/internal/bus"
	"github.com/downlee/downlee/internal/domain"
)

const statusEditInterval = 20 * time.Second

// Worker drives one chat file to disk with retries. It is the only mutator
// of its job row while it lives.
type Worker struct {
	app        *app.Context
	msg        Message
	externalID string
	path       string

	maxRetries int
	retryDelay time.Duration

	tracker  *domain.ProgressTracker
	replyID  int64
	lastEdit time.Time

	// latest snapshot for the side-channel text, owned by the callback
	curBytes   int64
	totalBytes int64
	progress   float64
}

func NewWorker(a *app.Context, msg Message, externalID, path string) *Worker {
	return &Worker{
		app:        a,
		msg:        msg,
		externalID: externalID,
		path:       path,
		maxRetries: a.Config.Chat.MaxRetries,
		retryDelay: time.Duration(a.Config.Chat.RetryDelaySec) * time.Second,
		tracker:    domain.NewProgressTracker(),
	}
}

func (w *Worker) Run(ctx context.Context) {
	defer w.app.Registry.Remove(w.externalID)

	// Best-effort side-channel mirror; failure never blocks the download.
	if id, err := w.msg.Reply(ctx, "Status: Downloading"); err == nil {
		w.replyID = id
	} else {
		w.app.Logger.Warn("chat %s: status reply failed: %v", w.externalID, err)
	}
	w.lastEdit = time.Now()

	for attempt := 1; attempt <= w.maxRetries; attempt++ {
		err := w.msg.Download(ctx, w.path, w.onProgress)
		if err == nil {
			w.finish(domain.StatusDone, "")
			w.editStatus("Status: Downloaded")
			return
		}

		if ctx.Err() != nil {
			w.finish(domain.StatusStopped, "")
			w.editStatus("Status: Stopped")
			return
		}

		errMsg := fmt.Sprintf("Attempt %d/%d failed: %v", attempt, w.maxRetries, err)
		w.app.Logger.Error("chat %s: %s", w.externalID, errMsg)
		if uerr := w.app.Store.UpdateJobByExternalID(w.externalID, domain.JobPatch{Error: &errMsg}); uerr != nil {
			w.app.Logger.Warn("chat %s: error record failed: %v", w.externalID, uerr)
		}

		select {
		case <-ctx.Done():
			w.finish(domain.StatusStopped, "")
			w.editStatus("Status: Stopped")
			return
		case <-time.After(w.retryDelay):
		}
	}

	w.finish(domain.StatusFailed, "")
	w.editStatus("Status: Failed")
}

// onProgress is invoked by the provider with cumulative byte counts. Store
// writes are unthrottled; bus emissions keep >=1s spacing.
func (w *Worker) onProgress(current, total int64) {
	now := time.Now()
	speed := w.tracker.Speed(current, now)
	progress := domain.Percent(current, total)
	pending := domain.Remaining(current, total, speed)

	w.curBytes = current
	w.totalBytes = total
	w.progress = progress

	patch := domain.JobPatch{
		Progress:        &progress,
		Speed:           &speed,
		DownloadedBytes: &current,
		TotalBytes:      &total,
		PendingTime:     pending,
		ClearPending:    pending == nil,
	}
	if err := w.app.Store.UpdateJobByExternalID(w.externalID, patch); err != nil {
		w.app.Logger.Warn("chat %s: progress write failed: %v", w.externalID, err)
	}

	if w.tracker.ShouldEmit(progress) {
		w.app.EmitProgress(bus.ProgressEvent{
			ExternalID:      w.externalID,
			Progress:        progress,
			DownloadedBytes: current,
			TotalBytes:      total,
			Speed:           speed,
			PendingTime:     pending,
		})
	}

	if w.replyID != 0 && now.Sub(w.lastEdit) >= statusEditInterval {
		w.lastEdit = now
		go w.editStatus(fmt.Sprintf("Status: Downloading %.1f%% (%s/%s)",
			progress, humanize.IBytes(uint64(current)), humanize.IBytes(uint64(max(total, 0)))))
	}
}

// finish writes the terminal record before emitting the status event, so a
// reconnecting observer always lists what it was last told.
func (w *Worker) finish(status domain.Status, errText string) {
	speed := 0.0
	patch := domain.JobPatch{Status: &status, Speed: &speed}

	switch status {
	case domain.StatusDone:
		progress := 100.0
		pending := 0.0
		patch.Progress = &progress
		patch.PendingTime = &pending
	case domain.StatusFailed:
		patch.ClearPending = true
		if errText != "" {
			patch.Error = &errText
		}
	}

	if err := w.app.Store.UpdateJobByExternalID(w.externalID, patch); err != nil {
		w.app.Logger.Error("chat %s: terminal write failed: %v", w.externalID, err)
	}
	w.app.EmitStatus(w.externalID, status, errText)
}

// editStatus updates the side-channel message. Terminal edits run after the
// job context may be gone, so they get their own short deadline.
func (w *Worker) editStatus(text string) {
	if w.replyID == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.msg.EditReply(ctx, w.replyID, text); err != nil {
		w.app.Logger.Warn("chat %s: status edit failed: %v", w.externalID, err)
	}
}
