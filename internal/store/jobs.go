package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/downlee/downlee/internal/domain"
)

// CreateJob inserts a new job row and returns it with id and timestamps set.
func (s *Store) CreateJob(j *domain.Job) (*domain.Job, error) {
	now := time.Now().UTC()
	j.CreatedAt = now
	j.UpdatedAt = now
	if j.Status == "" {
		j.Status = domain.StatusDownloading
	}
	if j.SourceTag == "" {
		j.SourceTag = domain.SourceTagChat
	}

	var pending sql.NullFloat64
	if j.PendingTime != nil {
		pending = sql.NullFloat64{Float64: *j.PendingTime, Valid: true}
	}

	query := s.rebind(`INSERT INTO downloads
		(external_id, file, status, progress, speed, error, updated_at, created_at,
		 downloaded_bytes, total_bytes, pending_time, is_deleted, source_tag, url, file_deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	args := []any{
		j.ExternalID, j.File, string(j.Status), j.Progress, j.Speed,
		nullStr(j.Error), j.UpdatedAt, j.CreatedAt, j.DownloadedBytes,
		j.TotalBytes, pending, j.IsDeleted, j.SourceTag, nullStr(j.URL),
		j.FileDeleted,
	}

	if s.driver == driverPostgres {
		if err := s.db.QueryRow(query+" RETURNING id", args...).Scan(&j.ID); err != nil {
			return nil, fmt.Errorf("%w: insert download: %v", domain.ErrStorage, err)
		}
		return j, nil
	}

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: insert download: %v", domain.ErrStorage, err)
	}
	j.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("%w: insert download: %v", domain.ErrStorage, err)
	}
	return j, nil
}

func (s *Store) JobByID(id int64) (*domain.Job, error) {
	query := s.rebind("SELECT " + downloadColumns + " FROM downloads WHERE id = ? LIMIT 1")
	return s.jobRow(query, id)
}

func (s *Store) JobByExternalID(externalID string) (*domain.Job, error) {
	query := s.rebind("SELECT " + downloadColumns + " FROM downloads WHERE external_id = ? LIMIT 1")
	return s.jobRow(query, externalID)
}

func (s *Store) jobRow(query string, arg any) (*domain.Job, error) {
	dbo, err := scanDownload(s.db.QueryRow(query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: fetch download: %v", domain.ErrStorage, err)
	}
	return dbo.ToDomain(), nil
}

// ListQuery carries the listing parameters. ExcludeTags must already be
// resolved from routing-entry ids to source tags by the caller.
type ListQuery struct {
	Search         string
	Filter         string // "all" | "active"
	SortBy         string // created_at | file | status | progress
	SortOrder      string // asc | desc
	Limit          int
	Offset         int
	ExcludeTags    []string
	IncludeDeleted bool
}

var sortColumns = map[string]string{
	"created_at": "created_at",
	"file":       "file",
	"status":     "status",
	"progress":   "progress",
}

// ListJobs applies, in order: source exclusion, case-insensitive filename
// search, status filter, sort, then offset/limit. Returns the page, the
// pre-pagination total, and a has-more flag.
func (s *Store) ListJobs(q ListQuery) ([]*domain.Job, int, bool, error) {
	where := []string{}
	args := []any{}

	if !q.IncludeDeleted {
		where = append(where, "is_deleted = ?")
		args = append(args, false)
	}

	if len(q.ExcludeTags) > 0 {
		where = append(where, fmt.Sprintf("source_tag NOT IN (%s)", placeholders(len(q.ExcludeTags))))
		for _, t := range q.ExcludeTags {
			args = append(args, t)
		}
	}

	if q.Search != "" {
		where = append(where, "LOWER(file) LIKE ?")
		args = append(args, "%"+strings.ToLower(q.Search)+"%")
	}

	if q.Filter == "active" {
		where = append(where, "status != ?")
		args = append(args, string(domain.StatusDone))
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	countQuery := s.rebind("SELECT COUNT(*) FROM downloads" + clause)
	if err := s.db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, 0, false, fmt.Errorf("%w: count downloads: %v", domain.ErrStorage, err)
	}

	sortCol, ok := sortColumns[q.SortBy]
	if !ok {
		sortCol = "created_at"
	}
	order := "DESC"
	if strings.EqualFold(q.SortOrder, "asc") {
		order = "ASC"
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	query := s.rebind(fmt.Sprintf(
		"SELECT %s FROM downloads%s ORDER BY %s %s LIMIT ? OFFSET ?",
		downloadColumns, clause, sortCol, order,
	))
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, 0, false, fmt.Errorf("%w: list downloads: %v", domain.ErrStorage, err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		dbo, err := scanDownload(rows)
		if err != nil {
			return nil, 0, false, fmt.Errorf("%w: scan download: %v", domain.ErrStorage, err)
		}
		jobs = append(jobs, dbo.ToDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, 0, false, fmt.Errorf("%w: list downloads: %v", domain.ErrStorage, err)
	}

	hasMore := offset+len(jobs) < total
	return jobs, total, hasMore, nil
}

// UpdateJobByExternalID applies a sparse patch atomically. Progress fields
// arrive together in one statement, so observers never see interleaved
// byte counters. A missing row is a no-op returning ErrNotFound.
func (s *Store) UpdateJobByExternalID(externalID string, p domain.JobPatch) error {
	set := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}

	add := func(col string, v any) {
		set = append(set, col+" = ?")
		args = append(args, v)
	}

	if p.File != nil {
		add("file", *p.File)
	}
	if p.Status != nil {
		add("status", string(*p.Status))
	}
	if p.Progress != nil {
		add("progress", *p.Progress)
	}
	if p.Speed != nil {
		add("speed", *p.Speed)
	}
	if p.DownloadedBytes != nil {
		add("downloaded_bytes", *p.DownloadedBytes)
	}
	if p.TotalBytes != nil {
		add("total_bytes", *p.TotalBytes)
	}
	if p.PendingTime != nil {
		add("pending_time", *p.PendingTime)
	} else if p.ClearPending {
		add("pending_time", nil)
	}
	if p.Error != nil {
		add("error", *p.Error)
	} else if p.ClearError {
		add("error", nil)
	}
	if p.FileDeleted != nil {
		add("file_deleted", *p.FileDeleted)
	}

	query := s.rebind(fmt.Sprintf("UPDATE downloads SET %s WHERE external_id = ?", strings.Join(set, ", ")))
	args = append(args, externalID)

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("%w: update download: %v", domain.ErrStorage, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SoftDeleteByExternalID hides the row from all default reads. The row stays
// for audit; only the purge admin task removes it.
func (s *Store) SoftDeleteByExternalID(externalID string) error {
	query := s.rebind("UPDATE downloads SET is_deleted = ?, updated_at = ? WHERE external_id = ?")
	res, err := s.db.Exec(query, true, time.Now().UTC(), externalID)
	if err != nil {
		return fmt.Errorf("%w: delete download: %v", domain.ErrStorage, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// PurgeDeleted hard-deletes soft-deleted rows. Administrative task, not
// exposed on the operator surface.
func (s *Store) PurgeDeleted() (int64, error) {
	res, err := s.db.Exec(s.rebind("DELETE FROM downloads WHERE is_deleted = ?"), true)
	if err != nil {
		return 0, fmt.Errorf("%w: purge downloads: %v", domain.ErrStorage, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Stats aggregates all non-deleted jobs.
func (s *Store) Stats() (*domain.Stats, error) {
	query := s.rebind(`SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN status != ? THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(downloaded_bytes), 0),
		COALESCE(SUM(total_bytes), 0),
		COALESCE(SUM(speed), 0)
		FROM downloads WHERE is_deleted = ?`)

	st := &domain.Stats{}
	err := s.db.QueryRow(query, string(domain.StatusDone), string(domain.StatusDone), false).Scan(
		&st.TotalCount, &st.ActiveCount, &st.DownloadedCount,
		&st.TotalDownloaded, &st.TotalSize, &st.TotalSpeed,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: stats: %v", domain.ErrStorage, err)
	}
	st.PendingBytes = st.TotalSize - st.TotalDownloaded
	return st, nil
}
