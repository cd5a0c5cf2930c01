package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/downlee/downlee/internal/domain"
)

const routeColumns = "id, source_tag, access_restricted, folder, quality, created_at, updated_at"

func (s *Store) CreateRoute(r *domain.SourceRoute) (*domain.SourceRoute, error) {
	if existing, err := s.RouteByTag(r.SourceTag); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, domain.ErrConflict
	}

	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	query := s.rebind(`INSERT INTO download_type_maps
		(source_tag, access_restricted, folder, quality, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	args := []any{r.SourceTag, r.AccessRestricted, nullStr(r.Folder), nullStr(r.Quality), r.CreatedAt, r.UpdatedAt}

	if s.driver == driverPostgres {
		if err := s.db.QueryRow(query+" RETURNING id", args...).Scan(&r.ID); err != nil {
			return nil, fmt.Errorf("%w: insert route: %v", domain.ErrStorage, err)
		}
		return r, nil
	}

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: insert route: %v", domain.ErrStorage, err)
	}
	r.ID, _ = res.LastInsertId()
	return r, nil
}

func (s *Store) UpdateRoute(r *domain.SourceRoute) error {
	query := s.rebind(`UPDATE download_type_maps
		SET source_tag = ?, access_restricted = ?, folder = ?, quality = ?, updated_at = ?
		WHERE id = ?`)
	res, err := s.db.Exec(query, r.SourceTag, r.AccessRestricted, nullStr(r.Folder), nullStr(r.Quality), time.Now().UTC(), r.ID)
	if err != nil {
		return fmt.Errorf("%w: update route: %v", domain.ErrStorage, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteRoute(id int64) error {
	res, err := s.db.Exec(s.rebind("DELETE FROM download_type_maps WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("%w: delete route: %v", domain.ErrStorage, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) Routes() ([]*domain.SourceRoute, error) {
	rows, err := s.db.Query("SELECT " + routeColumns + " FROM download_type_maps ORDER BY source_tag ASC")
	if err != nil {
		return nil, fmt.Errorf("%w: list routes: %v", domain.ErrStorage, err)
	}
	defer rows.Close()

	var routes []*domain.SourceRoute
	for rows.Next() {
		dbo := &routeDBO{}
		if err := rows.Scan(&dbo.ID, &dbo.SourceTag, &dbo.AccessRestricted, &dbo.Folder, &dbo.Quality, &dbo.CreatedAt, &dbo.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan route: %v", domain.ErrStorage, err)
		}
		routes = append(routes, dbo.ToDomain())
	}
	return routes, rows.Err()
}

// RouteByTag returns nil without error when no entry exists for the tag:
// absence of a route is the common case, not a failure.
func (s *Store) RouteByTag(sourceTag string) (*domain.SourceRoute, error) {
	query := s.rebind("SELECT " + routeColumns + " FROM download_type_maps WHERE source_tag = ? LIMIT 1")
	dbo := &routeDBO{}
	err := s.db.QueryRow(query, sourceTag).Scan(
		&dbo.ID, &dbo.SourceTag, &dbo.AccessRestricted, &dbo.Folder, &dbo.Quality, &dbo.CreatedAt, &dbo.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: fetch route: %v", domain.ErrStorage, err)
	}
	return dbo.ToDomain(), nil
}

// TagsForRouteIDs resolves routing-entry ids to source tags. Unknown ids are
// silently skipped; the exclusion set simply gets smaller.
func (s *Store) TagsForRouteIDs(ids []int64) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := s.rebind(fmt.Sprintf(
		"SELECT source_tag FROM download_type_maps WHERE id IN (%s)", placeholders(len(ids)),
	))
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve route ids: %v", domain.ErrStorage, err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("%w: scan route tag: %v", domain.ErrStorage, err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// RestrictedTags returns the set of source tags flagged access-restricted.
func (s *Store) RestrictedTags() (map[string]struct{}, error) {
	rows, err := s.db.Query(s.rebind("SELECT source_tag FROM download_type_maps WHERE access_restricted = ?"), true)
	if err != nil {
		return nil, fmt.Errorf("%w: restricted tags: %v", domain.ErrStorage, err)
	}
	defer rows.Close()

	tags := make(map[string]struct{})
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("%w: scan restricted tag: %v", domain.ErrStorage, err)
		}
		tags[t] = struct{}{}
	}
	return tags, rows.Err()
}
