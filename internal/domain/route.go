package domain

import "time"

// SourceRoute is an operator-configured routing entry for one source tag:
// destination folder override, preferred quality, and the access-restricted
// flag that hides the source's jobs from default listings.
type SourceRoute struct {
	ID               int64     `json:"id"`
	SourceTag        string    `json:"source_tag"`
	AccessRestricted bool      `json:"access_restricted"`
	Folder           string    `json:"folder,omitempty"`
	Quality          string    `json:"quality,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// User is an operator account. The password hash never crosses the wire.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
