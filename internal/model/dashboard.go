// internal/model/dashboard.go
package model

// CategoryLikes is the like total for one category.
type CategoryLikes struct {
	Category string `json:"category"`
	Likes    int    `json:"likes"`
}

// DatePoint is one entry of a daily time series.
type DatePoint struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// Hotspot is an S2 cell holding many reported cases.
type Hotspot struct {
	CellToken string  `json:"cellToken"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Cases     int     `json:"cases"`
	Open      int     `json:"open"`
}

// Dashboard is the admin overview.
type Dashboard struct {
	TotalLikes       int64           `json:"totalLikes"`
	TotalPageViews   int64           `json:"totalPageViews"`
	TotalUniqueUsers int64           `json:"totalUniqueUsers"`
	TotalLoginCount  int64           `json:"totalLoginCount"`
	LikesByCategory  []CategoryLikes `json:"likesByCategory"`
	DailyUsers       []DatePoint     `json:"dailyUsers"`
	DailyPageViews   []DatePoint     `json:"dailyPageViews"`
	DailyLogins      []DatePoint     `json:"dailyLogins"`
	CasesByStatus    map[Status]int  `json:"casesByStatus"`
	Hotspots         []Hotspot       `json:"hotspots"`
}
