package store

import (
	"database/sql"
	"time"

	"github.com/downlee/downlee/internal/domain"
)

// downloadDBO maps to the downloads table
type downloadDBO struct {
	ID              int64           `db:"id"`
	ExternalID      string          `db:"external_id"`
	File            string          `db:"file"`
	Status          string          `db:"status"`
	Progress        float64         `db:"progress"`
	Speed           float64         `db:"speed"`
	Error           sql.NullString  `db:"error"`
	UpdatedAt       time.Time       `db:"updated_at"`
	CreatedAt       time.Time       `db:"created_at"`
	DownloadedBytes int64           `db:"downloaded_bytes"`
	TotalBytes      int64           `db:"total_bytes"`
	PendingTime     sql.NullFloat64 `db:"pending_time"`
	IsDeleted       bool            `db:"is_deleted"`
	SourceTag       string          `db:"source_tag"`
	URL             sql.NullString  `db:"url"`
	FileDeleted     bool            `db:"file_deleted"`
}

const downloadColumns = `id, external_id, file, status, progress, speed, error,
	updated_at, created_at, downloaded_bytes, total_bytes, pending_time,
	is_deleted, source_tag, url, file_deleted`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDownload(row rowScanner) (*downloadDBO, error) {
	d := &downloadDBO{}
	err := row.Scan(
		&d.ID, &d.ExternalID, &d.File, &d.Status, &d.Progress, &d.Speed,
		&d.Error, &d.UpdatedAt, &d.CreatedAt, &d.DownloadedBytes,
		&d.TotalBytes, &d.PendingTime, &d.IsDeleted, &d.SourceTag, &d.URL,
		&d.FileDeleted,
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (d *downloadDBO) ToDomain() *domain.Job {
	j := &domain.Job{
		ID:              d.ID,
		ExternalID:      d.ExternalID,
		SourceTag:       d.SourceTag,
		URL:             d.URL.String,
		File:            d.File,
		Status:          domain.Status(d.Status),
		Progress:        d.Progress,
		Speed:           d.Speed,
		DownloadedBytes: d.DownloadedBytes,
		TotalBytes:      d.TotalBytes,
		Error:           d.Error.String,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
		IsDeleted:       d.IsDeleted,
		FileDeleted:     d.FileDeleted,
	}
	if d.PendingTime.Valid {
		v := d.PendingTime.Float64
		j.PendingTime = &v
	}
	return j
}

// routeDBO maps to the download_type_maps table
type routeDBO struct {
	ID               int64          `db:"id"`
	SourceTag        string         `db:"source_tag"`
	AccessRestricted bool           `db:"access_restricted"`
	Folder           sql.NullString `db:"folder"`
	Quality          sql.NullString `db:"quality"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

func (r *routeDBO) ToDomain() *domain.SourceRoute {
	return &domain.SourceRoute{
		ID:               r.ID,
		SourceTag:        r.SourceTag,
		AccessRestricted: r.AccessRestricted,
		Folder:           r.Folder.String,
		Quality:          r.Quality.String,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
