package routing

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/downlee/downlee/internal/domain"
	"github.com/downlee/downlee/internal/infra/logger"
	"github.com/downlee/downlee/internal/store"
)

// MediaKind selects the default destination subfolder.
type MediaKind string

const (
	MediaVideos    MediaKind = "Videos"
	MediaImages    MediaKind = "Images"
	MediaDocuments MediaKind = "Documents"
)

// KindForMIME maps a MIME type to its media kind.
func KindForMIME(mimeType string) MediaKind {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return MediaImages
	case strings.HasPrefix(mimeType, "video/"):
		return MediaVideos
	default:
		return MediaDocuments
	}
}

// Table resolves per-source destinations and access flags from the routing
// entries in the store. Accessibility of a mapped folder is re-checked per
// job: a lost mount falls back to the default rather than failing the job.
type Table struct {
	store      *store.Store
	defaultDir string
	log        *logger.Logger
}

func NewTable(s *store.Store, defaultDir string, log *logger.Logger) *Table {
	return &Table{store: s, defaultDir: defaultDir, log: log}
}

// ResolveDestination returns the folder downloads for this source should land
// in, creating it if needed. Preference order: accessible mapped folder, then
// <defaultDir>/<mediaKind>.
func (t *Table) ResolveDestination(sourceTag string, kind MediaKind) string {
	route, err := t.store.RouteByTag(sourceTag)
	if err != nil && t.log != nil {
		t.log.Warn("routing lookup for %q failed: %v", sourceTag, err)
	}

	if route != nil && route.Folder != "" {
		if dir, ok := t.ensureDir(route.Folder); ok {
			return dir
		}
		if t.log != nil {
			t.log.Warn("mapped folder %q not accessible, falling back to default", route.Folder)
		}
	}

	dir, _ := t.ensureDir(filepath.Join(t.defaultDir, string(kind)))
	return dir
}

// PreferredQuality returns the configured quality for a source, e.g. "720p",
// or empty when none is set.
func (t *Table) PreferredQuality(sourceTag string) string {
	route, err := t.store.RouteByTag(sourceTag)
	if err != nil || route == nil {
		return ""
	}
	return route.Quality
}

func (t *Table) IsAccessRestricted(sourceTag string) bool {
	route, err := t.store.RouteByTag(sourceTag)
	if err != nil || route == nil {
		return false
	}
	return route.AccessRestricted
}

// LocateArtifact finds the on-disk file for a job by checking its mapped
// folder and the default kind folders. Returns the path and whether it exists.
func (t *Table) LocateArtifact(job *domain.Job) (string, bool) {
	var candidates []string

	if route, err := t.store.RouteByTag(job.SourceTag); err == nil && route != nil && route.Folder != "" {
		candidates = append(candidates, filepath.Join(route.Folder, job.File))
	}
	for _, kind := range []MediaKind{MediaVideos, MediaImages, MediaDocuments} {
		candidates = append(candidates, filepath.Join(t.defaultDir, string(kind), job.File))
	}

	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, true
		}
	}
	return "", false
}

// ensureDir creates the folder when its parent exists, mirroring the
// "exists or parent is writable" accessibility rule.
func (t *Table) ensureDir(dir string) (string, bool) {
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return dir, true
	}
	if _, err := os.Stat(filepath.Dir(dir)); err != nil {
		return "", false
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", false
	}
	return dir, true
}
