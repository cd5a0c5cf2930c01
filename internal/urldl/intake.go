package urldl

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/downlee/downlee/internal/app"
	"github.com/downlee/downlee/internal/domain"
	"github.com/downlee/downlee/internal/extractor"
	"github.com/downlee/downlee/internal/registry"
	"github.com/downlee/downlee/internal/routing"
)

// Intake creates URL jobs: it probes the extractor for metadata, records the
// job, and launches the subprocess worker. Workers outlive the HTTP request
// that started them, so they run under the intake's base context.
type Intake struct {
	app     *app.Context
	ex      *extractor.Extractor
	baseCtx context.Context

	probe func(ctx context.Context, url string) (*extractor.Info, error)
	start func(job *domain.Job, formatID string) error
}

func NewIntake(a *app.Context, ex *extractor.Extractor, baseCtx context.Context) *Intake {
	in := &Intake{app: a, ex: ex, baseCtx: baseCtx}
	in.probe = ex.Probe
	in.start = in.launch
	return in
}

// Probe forwards to the extractor. The returned error, when non-nil, is a
// classified *extractor.ProbeError.
func (in *Intake) Probe(ctx context.Context, url string) (*extractor.Info, error) {
	return in.probe(ctx, url)
}

// StartRequest carries the operator's submission. Title, Ext and Filesize
// may come from an earlier probe; when Title is empty the intake probes
// itself.
type StartRequest struct {
	URL        string
	FormatID   string
	Title      string
	Ext        string
	Resolution string
	Filesize   int64
}

// Start creates the job and launches its worker. The job row and the `new`
// event exist before the subprocess does.
func (in *Intake) Start(ctx context.Context, req StartRequest) (*domain.Job, error) {
	sourceTag := domain.SourceTagFromURL(req.URL)

	var info *extractor.Info
	if req.Title == "" {
		probed, err := in.probe(ctx, req.URL)
		if err != nil {
			return nil, err
		}
		info = probed
		req.Title = info.Title
		req.Ext = info.Ext
		if req.Filesize == 0 {
			req.Filesize = info.Filesize
		}
	}

	// The routing entry's quality preference applies whenever the client did
	// not pin a format, even when it supplied the metadata itself.
	if req.FormatID == "" {
		preferred := in.app.Routing.PreferredQuality(sourceTag)
		if info == nil && preferred != "" {
			probed, err := in.probe(ctx, req.URL)
			if err != nil {
				return nil, err
			}
			info = probed
		}
		if info != nil {
			req.FormatID = PickFormat(info.Formats, preferred)
		}
	}

	ext := req.Ext
	if ext == "" {
		ext = "mp4"
	}
	name := req.Title
	if req.Resolution != "" && req.Resolution != "best" {
		name = fmt.Sprintf("%s-%s", name, req.Resolution)
	}
	filename := domain.SanitizeFilename(name + "." + ext)

	job, err := in.app.Store.CreateJob(&domain.Job{
		ExternalID: uuid.NewString(),
		SourceTag:  sourceTag,
		URL:        req.URL,
		File:       filename,
		Status:     domain.StatusDownloading,
		TotalBytes: req.Filesize,
	})
	if err != nil {
		return nil, err
	}
	in.app.EmitNew(job)

	if err := in.start(job, req.FormatID); err != nil {
		return nil, err
	}
	return job, nil
}

// Resume relaunches the worker for an existing job, keeping its external id,
// URL and recorded progress. No format is forced: the continue flag makes the
// extractor pick up the partial artifact with its original selection.
func (in *Intake) Resume(job *domain.Job) error {
	return in.start(job, "")
}

func (in *Intake) launch(job *domain.Job, formatID string) error {
	folder := in.app.Routing.ResolveDestination(job.SourceTag, routing.MediaVideos)
	w := NewWorker(in.app, in.ex, job, formatID, folder)

	jobCtx, cancel := context.WithCancel(in.baseCtx)
	if err := in.app.Registry.Add(job.ExternalID, registry.Handle{Kind: domain.KindURL, Cancel: cancel}); err != nil {
		cancel()
		return err
	}

	go w.Run(jobCtx)
	return nil
}

// PickFormat applies the quality preference: the format whose height matches
// the preferred quality, else the highest (the list arrives sorted by height
// descending), else the extractor's own "best".
func PickFormat(formats []extractor.Format, preferred string) string {
	if len(formats) == 0 {
		return "best"
	}

	if digits := qualityDigits(preferred); digits != "" {
		for _, f := range formats {
			if strconv.Itoa(f.Height) == digits ||
				strings.Contains(strings.ToLower(f.Resolution), digits) {
				return f.ID
			}
		}
	}

	return formats[0].ID
}

func qualityDigits(preferred string) string {
	var b strings.Builder
	for _, r := range preferred {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// OutputTemplate builds the extractor's output path template for a folder.
func OutputTemplate(folder string) string {
	return filepath.Join(folder, "%(title)s.%(ext)s")
}
