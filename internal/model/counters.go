// internal/model/counters.go
package model

// Counter field names used under performance/ and daily_stats/{date}/.
const (
	FieldUniqueUsers = "uniqueUsers"
	FieldPageViews   = "pageViews"
	FieldLoginCount  = "loginCount"

	FieldTotalUniqueUsers = "totalUniqueUsers"
	FieldTotalPageViews   = "totalPageViews"
	FieldTotalLoginCount  = "totalLoginCount"
	FieldTotalLikes       = "totalLikes"
)

// DateLayout formats the UTC day used to key daily statistics.
const DateLayout = "2006-01-02"

// UserProfile is the per-user tracking record.
type UserProfile struct {
	LastLogin int64 `json:"lastLogin"` // unix millis
}

// LoginResult reports how a login was counted.
type LoginResult struct {
	NewUser    bool   `json:"newUser"`
	Date       string `json:"date"`
	IsNewLogin bool   `json:"isNewLogin"`
}

// PageViewResult reports whether a page view was counted.
type PageViewResult struct {
	Increment bool   `json:"increment"`
	Date      string `json:"date"`
}
