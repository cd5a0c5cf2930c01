package domain

import (
	"regexp"
	"strings"
	"time"
)

type Status string

const (
	StatusDownloading Status = "downloading"
	StatusDone        Status = "done"
	StatusFailed      Status = "failed"
	StatusStopped     Status = "stopped"
)

// Terminal reports whether a status permits no further progress without a retry.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusStopped
}

// Retryable reports whether a job in this status may be moved back to downloading.
func (s Status) Retryable() bool {
	return s == StatusFailed || s == StatusStopped
}

type Kind int

const (
	KindChat Kind = iota
	KindURL
)

// KindOf discriminates the job kind from its external id. URL jobs carry a
// generated UUID (contains hyphens); chat jobs carry a decimal message id.
// This is the legacy wire contract and must not change.
func KindOf(externalID string) Kind {
	if strings.Contains(externalID, "-") {
		return KindURL
	}
	return KindChat
}

// SourceTagChat is the fixed source tag for jobs created by the chat intake.
const SourceTagChat = "chat"

// Job is the central entity: one row per logical download.
type Job struct {
	ID              int64    `json:"id"`
	ExternalID      string   `json:"external_id"`
	SourceTag       string   `json:"source_tag"`
	URL             string   `json:"url,omitempty"`
	File            string   `json:"file"`
	Status          Status   `json:"status"`
	Progress        float64  `json:"progress"`
	Speed           float64  `json:"speed"`
	DownloadedBytes int64    `json:"downloaded_bytes"`
	TotalBytes      int64    `json:"total_bytes"`
	PendingTime     *float64 `json:"pending_time"`
	Error           string   `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	IsDeleted   bool `json:"-"`
	FileDeleted bool `json:"file_deleted"`
}

func (j *Job) Kind() Kind { return KindOf(j.ExternalID) }

// JobPatch is a sparse update. Nil fields are left untouched. PendingTime and
// Error are nullable columns, so clearing them is signalled separately from
// leaving them alone.
type JobPatch struct {
	File            *string
	Status          *Status
	Progress        *float64
	Speed           *float64
	DownloadedBytes *int64
	TotalBytes      *int64
	PendingTime     *float64
	ClearPending    bool
	Error           *string
	ClearError      bool
	FileDeleted     *bool
}

// Stats aggregates all non-deleted jobs for the stats topic and endpoint.
type Stats struct {
	TotalCount      int     `json:"total_count"`
	ActiveCount     int     `json:"active_count"`
	DownloadedCount int     `json:"downloaded_count"`
	TotalDownloaded int64   `json:"total_downloaded"`
	TotalSize       int64   `json:"total_size"`
	PendingBytes    int64   `json:"pending_bytes"`
	TotalSpeed      float64 `json:"total_speed"`
}

var unsafeFileChars = regexp.MustCompile(`[<>:"/\\|?*[:cntrl:]]`)

// SanitizeFilename strips path separators and characters that are illegal on
// common filesystems, then trims the result to 100 characters. The extension
// is preserved when trimming.
func SanitizeFilename(name string) string {
	name = unsafeFileChars.ReplaceAllString(name, "")
	name = strings.TrimSpace(name)
	if name == "" {
		return name
	}

	const maxLen = 100
	if len(name) <= maxLen {
		return name
	}

	ext := ""
	if i := strings.LastIndex(name, "."); i > 0 && len(name)-i <= 10 {
		ext = name[i:]
		name = name[:i]
	}
	if len(name) > maxLen-len(ext) {
		name = name[:maxLen-len(ext)]
	}
	return name + ext
}
