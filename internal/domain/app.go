package domain

import (
	"strconv"
	"time"
)

// App is a registered OAuth client on the platform. The app ID doubles as
// the OAuth client_id on the wire.
type App struct {
	ID                     int64
	OwnerUserID            int64
	Name                   string
	Description            string
	AuthorizedCallbackURLs []string
	ArchivedAt             *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// ClientID renders the app ID the way it travels in OAuth requests.
func (a App) ClientID() string {
	return strconv.FormatInt(a.ID, 10)
}

// Archived reports whether the app has been soft-deleted.
func (a App) Archived() bool {
	return a.ArchivedAt != nil
}

// MemberApp pairs an app with the role a given user holds on it.
type MemberApp struct {
	App  App
	Role Role
}
