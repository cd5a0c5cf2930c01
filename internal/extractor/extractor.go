package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/downlee/downlee/internal/infra/logger"
)

// Extractor shells out to the site-extraction tool (yt-dlp compatible) for
// metadata probes and download invocations.
type Extractor struct {
	bin         string
	cookiesFile string
	log         *logger.Logger
}

func New(bin, cookiesFile string, log *logger.Logger) *Extractor {
	return &Extractor{bin: bin, cookiesFile: cookiesFile, log: log}
}

// Format is one downloadable rendition of a probed URL.
type Format struct {
	ID         string  `json:"format_id"`
	Ext        string  `json:"ext"`
	Resolution string  `json:"resolution"`
	Height     int     `json:"height"`
	Width      int     `json:"width,omitempty"`
	Filesize   int64   `json:"filesize,omitempty"`
	HasAudio   bool    `json:"has_audio"`
	TBR        float64 `json:"tbr,omitempty"`
	Label      string  `json:"label"`
}

// Info is the probe result for a supported URL.
type Info struct {
	Title        string   `json:"title"`
	Duration     float64  `json:"duration,omitempty"`
	Filesize     int64    `json:"filesize,omitempty"`
	Ext          string   `json:"ext"`
	Uploader     string   `json:"uploader,omitempty"`
	Formats      []Format `json:"formats"`
	BestFormatID string   `json:"best_format_id"`
}

// FailureKind classifies why a probe was rejected.
type FailureKind string

const (
	FailureUnsupported FailureKind = "unsupported"
	FailureUnavailable FailureKind = "unavailable"
	FailureRestricted  FailureKind = "restricted"
	FailureOther       FailureKind = "other"
)

// ProbeError is a classified extractor rejection.
type ProbeError struct {
	Kind    FailureKind
	Message string
}

func (e *ProbeError) Error() string { return e.Message }

const probeTimeout = 60 * time.Second

// runner abstracts command execution so probe classification is testable
// without the binary installed.
type runner func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf
	err := cmd.Run()
	return out.Bytes(), errBuf.Bytes(), err
}

// Probe synchronously asks the extractor for metadata and the available
// format list, sorted by height descending.
func (e *Extractor) Probe(ctx context.Context, url string) (*Info, error) {
	return e.probe(ctx, url, execRunner)
}

func (e *Extractor) probe(ctx context.Context, url string, run runner) (*Info, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	args := []string{"--dump-json", "--no-download", "--extractor-args", "generic:impersonate"}
	args = append(args, e.cookieArgs()...)
	args = append(args, url)

	stdout, stderr, err := run(ctx, e.bin, args...)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &ProbeError{Kind: FailureOther, Message: "request timed out"}
		}
		return nil, classifyProbeFailure(string(stderr))
	}

	var raw rawInfo
	if err := json.Unmarshal(stdout, &raw); err != nil {
		return nil, &ProbeError{Kind: FailureOther, Message: "failed to parse video info"}
	}

	return raw.toInfo(), nil
}

func classifyProbeFailure(stderr string) *ProbeError {
	msg := strings.TrimSpace(stderr)
	switch {
	case strings.Contains(msg, "Unsupported URL"):
		return &ProbeError{Kind: FailureUnsupported, Message: "Unsupported URL"}
	case strings.Contains(msg, "Video unavailable"):
		return &ProbeError{Kind: FailureUnavailable, Message: "Video unavailable"}
	case strings.Contains(msg, "Private video"), strings.Contains(msg, "Sign in"):
		return &ProbeError{Kind: FailureRestricted, Message: "Private video"}
	default:
		if len(msg) > 200 {
			msg = msg[:200]
		}
		if msg == "" {
			msg = "unknown error"
		}
		return &ProbeError{Kind: FailureOther, Message: msg}
	}
}

// Command assembles the download invocation: newline-delimited progress,
// resume from partial artifacts, optional format selector of the form
// <id>+bestaudio/best/<id>, cookies when present.
func (e *Extractor) Command(ctx context.Context, url, formatID, outputTemplate string) *exec.Cmd {
	args := []string{
		"--newline",
		"-c",
		"-o", outputTemplate,
		"--no-mtime",
		"--extractor-args", "generic:impersonate",
	}
	args = append(args, e.cookieArgs()...)
	if formatID != "" && formatID != "best" {
		args = append(args, "-f", fmt.Sprintf("%s+bestaudio/best/%s", formatID, formatID))
	}
	args = append(args, url)

	return exec.CommandContext(ctx, e.bin, args...)
}

func (e *Extractor) cookieArgs() []string {
	if e.cookiesFile == "" {
		return nil
	}
	if _, err := os.Stat(e.cookiesFile); err != nil {
		return nil
	}
	return []string{"--cookies", e.cookiesFile}
}

// rawInfo mirrors the extractor's JSON dump, reduced to what we consume.
type rawInfo struct {
	Title          string      `json:"title"`
	Duration       float64     `json:"duration"`
	Filesize       int64       `json:"filesize"`
	FilesizeApprox int64       `json:"filesize_approx"`
	Ext            string      `json:"ext"`
	Uploader       string      `json:"uploader"`
	Formats        []rawFormat `json:"formats"`
}

type rawFormat struct {
	FormatID       string  `json:"format_id"`
	Ext            string  `json:"ext"`
	Height         int     `json:"height"`
	Width          int     `json:"width"`
	VCodec         string  `json:"vcodec"`
	ACodec         string  `json:"acodec"`
	Filesize       int64   `json:"filesize"`
	FilesizeApprox int64   `json:"filesize_approx"`
	TBR            float64 `json:"tbr"`
}

func (r *rawInfo) toInfo() *Info {
	info := &Info{
		Title:    r.Title,
		Duration: r.Duration,
		Filesize: r.Filesize,
		Ext:      r.Ext,
		Uploader: r.Uploader,
	}
	if info.Title == "" {
		info.Title = "Unknown"
	}
	if info.Ext == "" {
		info.Ext = "mp4"
	}
	if info.Filesize == 0 {
		info.Filesize = r.FilesizeApprox
	}

	type key struct {
		height int
		ext    string
	}
	seen := make(map[key]bool)

	for _, f := range r.Formats {
		hasVideo := f.VCodec != "" && f.VCodec != "none"
		if !hasVideo || f.Height == 0 {
			continue
		}
		k := key{f.Height, f.Ext}
		if seen[k] {
			continue
		}
		seen[k] = true

		hasAudio := f.ACodec != "" && f.ACodec != "none"
		size := f.Filesize
		if size == 0 {
			size = f.FilesizeApprox
		}

		resolution := fmt.Sprintf("%dp", f.Height)
		label := fmt.Sprintf("%s (%s)", resolution, strings.ToUpper(f.Ext))
		if !hasAudio {
			label += " - no audio"
		}

		info.Formats = append(info.Formats, Format{
			ID:         f.FormatID,
			Ext:        f.Ext,
			Resolution: resolution,
			Height:     f.Height,
			Width:      f.Width,
			Filesize:   size,
			HasAudio:   hasAudio,
			TBR:        f.TBR,
			Label:      label,
		})
	}

	sort.SliceStable(info.Formats, func(i, j int) bool {
		return info.Formats[i].Height > info.Formats[j].Height
	})

	if len(info.Formats) == 0 {
		info.Formats = append(info.Formats, Format{
			ID:         "best",
			Ext:        info.Ext,
			Resolution: "best",
			Filesize:   info.Filesize,
			HasAudio:   true,
			Label:      "Best available",
		})
	}

	info.BestFormatID = info.Formats[0].ID
	return info
}
