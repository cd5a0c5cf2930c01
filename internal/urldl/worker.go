package urldl

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/downlee/downlee/internal/app"
	"github.com/downlee/downlee/internal/bus"
	"github.com/downlee/downlee/internal/domain"
	"github.com/downlee/downlee/internal/extractor"
)

const termGracePeriod = 5 * time.Second

// proc is a running extractor subprocess. Wait returns the exit code, with
// negative values meaning the process died from that signal number.
type proc interface {
	Output() io.Reader
	Wait() (int, error)
	Terminate() error
	Kill() error
}

// launcher starts the subprocess for a worker; swapped in tests.
type launcher func(cmd *exec.Cmd) (proc, error)

// osProc runs a real subprocess with stdout and stderr merged into one pipe,
// keeping progress and Destination lines in emission order.
type osProc struct {
	cmd *exec.Cmd
	out *os.File
}

func launchOS(cmd *exec.Cmd) (proc, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	cmd.Stdout = w
	cmd.Stderr = w
	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return nil, err
	}
	// The child holds its own copy of the write end; closing ours lets the
	// read side see EOF when the child exits.
	w.Close()
	return &osProc{cmd: cmd, out: r}, nil
}

func (p *osProc) Output() io.Reader { return p.out }

func (p *osProc) Wait() (int, error) {
	err := p.cmd.Wait()
	p.out.Close()
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return -int(ws.Signal()), nil
		}
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

func (p *osProc) Terminate() error { return p.cmd.Process.Signal(syscall.SIGTERM) }
func (p *osProc) Kill() error      { return p.cmd.Process.Kill() }

// Worker drives one URL job through the extractor subprocess: parse its
// output stream, persist progress, emit throttled events and classify the
// exit. It is the only mutator of its job row while it lives.
type Worker struct {
	app      *app.Context
	ex       *extractor.Extractor
	job      *domain.Job
	formatID string
	folder   string
	launch   launcher

	tracker *domain.ProgressTracker

	destination string
	lastLine    string
	alreadyDone bool
}

func NewWorker(a *app.Context, ex *extractor.Extractor, job *domain.Job, formatID, folder string) *Worker {
	return &Worker{
		app:      a,
		ex:       ex,
		job:      job,
		formatID: formatID,
		folder:   folder,
		launch:   launchOS,
		tracker:  domain.NewProgressTracker(),
	}
}

func (w *Worker) Run(ctx context.Context) {
	defer w.app.Registry.Remove(w.job.ExternalID)

	// The subprocess gets a background context on purpose: cancellation is
	// handled by the watcher below with a TERM then KILL escalation, not by
	// exec's immediate kill.
	cmd := w.ex.Command(context.Background(), w.job.URL, w.formatID, OutputTemplate(w.folder))

	p, err := w.launch(cmd)
	if err != nil {
		w.app.Logger.Error("url %s: extractor start failed: %v", w.job.ExternalID, err)
		w.finish(domain.StatusFailed, "failed to start extractor: "+err.Error())
		return
	}

	done := make(chan struct{})
	go w.watchCancel(ctx, p, done)

	scanner := bufio.NewScanner(p.Output())
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		w.handleLine(scanner.Text())
		if w.alreadyDone {
			break
		}
	}

	if w.alreadyDone {
		// The artifact already exists in full, so the job is done now; the
		// subprocess is reaped in the background while it winds down.
		w.finish(domain.StatusDone, "")
		go func() {
			p.Wait()
			close(done)
		}()
		return
	}

	code, waitErr := p.Wait()
	close(done)

	w.classifyExit(ctx, code, waitErr)
}

// watchCancel escalates a context cancellation into subprocess signals. The
// done channel closes once Wait has returned.
func (w *Worker) watchCancel(ctx context.Context, p proc, done chan struct{}) {
	select {
	case <-done:
		return
	case <-ctx.Done():
	}

	w.app.Logger.Info("url %s: stopping extractor", w.job.ExternalID)
	if err := p.Terminate(); err != nil {
		w.app.Logger.Warn("url %s: terminate failed: %v", w.job.ExternalID, err)
	}

	select {
	case <-done:
	case <-time.After(termGracePeriod):
		w.app.Logger.Warn("url %s: extractor ignored term, killing", w.job.ExternalID)
		if err := p.Kill(); err != nil {
			w.app.Logger.Warn("url %s: kill failed: %v", w.job.ExternalID, err)
		}
	}
}

func (w *Worker) handleLine(line string) {
	if trimmed := strings.TrimSpace(line); trimmed != "" {
		w.lastLine = trimmed
	}

	if dest, ok := extractor.ParseDestination(line); ok {
		w.destination = dest
		name := filepath.Base(dest)
		if err := w.app.Store.UpdateJobByExternalID(w.job.ExternalID, domain.JobPatch{File: &name}); err != nil {
			w.app.Logger.Warn("url %s: filename update failed: %v", w.job.ExternalID, err)
		}
		return
	}

	update := extractor.ParseProgress(line)
	if update == nil {
		return
	}
	if update.Complete {
		if strings.Contains(line, "has already been downloaded") {
			w.alreadyDone = true
		}
		return
	}
	w.applyProgress(update)
}

// applyProgress persists every parsed line; bus emission keeps >=1s spacing.
func (w *Worker) applyProgress(u *extractor.ProgressUpdate) {
	patch := domain.JobPatch{
		Progress:        &u.Progress,
		Speed:           &u.Speed,
		DownloadedBytes: &u.DownloadedBytes,
		TotalBytes:      &u.TotalBytes,
		PendingTime:     u.PendingTime,
		ClearPending:    u.PendingTime == nil,
	}
	if err := w.app.Store.UpdateJobByExternalID(w.job.ExternalID, patch); err != nil {
		w.app.Logger.Warn("url %s: progress write failed: %v", w.job.ExternalID, err)
	}

	if w.tracker.ShouldEmit(u.Progress) {
		w.app.EmitProgress(bus.ProgressEvent{
			ExternalID:      w.job.ExternalID,
			Progress:        u.Progress,
			DownloadedBytes: u.DownloadedBytes,
			TotalBytes:      u.TotalBytes,
			Speed:           u.Speed,
			PendingTime:     u.PendingTime,
		})
	}
}

// classifyExit decides the terminal status from the exit code and the cancel
// state. A cancelled context always wins so an operator stop never surfaces
// as a failure.
func (w *Worker) classifyExit(ctx context.Context, code int, waitErr error) {
	switch {
	case ctx.Err() != nil:
		w.finish(domain.StatusStopped, "")
	case code == 0 && waitErr == nil:
		w.finish(domain.StatusDone, "")
	case waitErr != nil:
		w.finish(domain.StatusFailed, "extractor wait failed: "+waitErr.Error())
	case code < 0:
		w.finish(domain.StatusFailed, "extractor killed by external signal")
	default:
		msg := w.lastLine
		if msg == "" {
			msg = "extractor exited with an error"
		}
		w.finish(domain.StatusFailed, msg)
	}
}

// finish writes the terminal record before emitting the status event. If a
// concurrent stop already marked the row, that record stands.
func (w *Worker) finish(status domain.Status, errText string) {
	if cur, err := w.app.Store.JobByExternalID(w.job.ExternalID); err == nil {
		if cur.Status.Terminal() && cur.Status != status && status == domain.StatusFailed {
			return
		}
	}

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

	if err := w.app.Store.UpdateJobByExternalID(w.job.ExternalID, patch); err != nil {
		w.app.Logger.Error("url %s: terminal write failed: %v", w.job.ExternalID, err)
	}
	w.app.EmitStatus(w.job.ExternalID, status, errText)
}
