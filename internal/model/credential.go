package model

import (
	"time"
)

// ExternalCredential is the process-wide CRM bearer token. Only one row
// exists; AccessToken and FetchedAt are always written together.
type ExternalCredential struct {
	AccessToken string    `db:"access_token" json:"-"`
	InstanceURL string    `db:"instance_url" json:"instanceUrl"`
	FetchedAt   time.Time `db:"fetched_at" json:"fetchedAt"`
}

// FreshAt reports whether the credential may be used at now given the
// freshness window.
func (c *ExternalCredential) FreshAt(now time.Time, window time.Duration) bool {
	if c == nil || c.AccessToken == "" {
		return false
	}
	return now.Sub(c.FetchedAt) < window
}
