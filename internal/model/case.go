// internal/model/case.go
// Package model defines the data structures shared by the case service.
package model

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// Status is the lifecycle state of a case.
type Status string

const (
	StatusUnprocessed Status = "UNPROCESSED"
	StatusInProgress  Status = "IN_PROGRESS"
	StatusProcessed   Status = "PROCESSED"
)

// legacyStatus maps the labels stored by earlier clients onto Status values.
var legacyStatus = map[string]Status{
	"尚未處理": StatusUnprocessed,
	"未處理":  StatusUnprocessed,
	"處理中":  StatusInProgress,
	"已處理":  StatusProcessed,
}

// ParseStatus accepts either the wire constant (case-insensitive) or a legacy label.
func ParseStatus(s string) (Status, bool) {
	s = strings.TrimSpace(s)
	if st, ok := legacyStatus[s]; ok {
		return st, true
	}
	switch st := Status(strings.ToUpper(s)); st {
	case StatusUnprocessed, StatusInProgress, StatusProcessed:
		return st, true
	}
	return "", false
}

// Open reports whether the case still needs work.
func (s Status) Open() bool {
	return s == StatusUnprocessed || s == StatusInProgress
}

// UnmarshalJSON normalises legacy labels found in stored documents.
func (s *Status) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if st, ok := ParseStatus(raw); ok {
		*s = st
		return nil
	}
	*s = Status(raw)
	return nil
}

// LikeSet records which users currently like a case.
type LikeSet map[string]bool

// Add marks userID as liking. It reports whether the set changed.
func (l *LikeSet) Add(userID string) bool {
	if *l == nil {
		*l = make(LikeSet)
	}
	if (*l)[userID] {
		return false
	}
	(*l)[userID] = true
	return true
}

// Remove clears userID. It reports whether the set changed.
func (l LikeSet) Remove(userID string) bool {
	if !l[userID] {
		return false
	}
	delete(l, userID)
	return true
}

func (l LikeSet) Contains(userID string) bool {
	return l[userID]
}

// Len counts users with a true flag; stored documents may carry false entries.
func (l LikeSet) Len() int {
	n := 0
	for _, v := range l {
		if v {
			n++
		}
	}
	return n
}

// Users returns the liking user ids in sorted order.
func (l LikeSet) Users() []string {
	out := make([]string, 0, len(l))
	for u, v := range l {
		if v {
			out = append(out, u)
		}
	}
	sort.Strings(out)
	return out
}

// PhotoEntry is one follow-up photo attached to a case.
type PhotoEntry struct {
	ImageURL    string    `json:"imageUrl"`
	Description string    `json:"description"`
	UploadTime  time.Time `json:"uploadTime"`
}

// ARISegment is a stretch of road whose roughness exceeded the threshold.
type ARISegment struct {
	StartARI float64 `json:"startARI"`
	EndARI   float64 `json:"endARI"`
	Distance float64 `json:"distance"`
}

// ARIMeasurement is a finished roughness-index recording.
type ARIMeasurement struct {
	ARI             float64      `json:"ARI"`
	TotalDistance   float64      `json:"totalDistance"`
	BadRoadSegments []ARISegment `json:"badRoadSegments"`
}

// Case is a citizen report tracked through its lifecycle.
type Case struct {
	CaseID              string          `json:"caseId"`
	ImageURL            string          `json:"imageUrl"`
	Status              Status          `json:"status"`
	UploadTime          time.Time       `json:"uploadTime"`
	UserID              string          `json:"userId"`
	Latitude            float64         `json:"latitude"`
	Longitude           float64         `json:"longitude"`
	Category            string          `json:"category"`
	Subcategory         string          `json:"subcategory,omitempty"`
	NewFormOption       string          `json:"newFormOption,omitempty"`
	DetailOption        string          `json:"detailOption,omitempty"`
	ExtraDetails        string          `json:"extraDetails,omitempty"`
	Address             string          `json:"address,omitempty"`
	CellToken           string          `json:"cellToken,omitempty"`
	Likes               int             `json:"likes"`
	UserLikes           LikeSet         `json:"userLikes,omitempty"`
	AdditionalImageURLs []PhotoEntry    `json:"additionalImageUrls,omitempty"`
	ReportTime          *time.Time      `json:"reportTime,omitempty"`
	ResponseTime        *time.Time      `json:"responseTime,omitempty"`
	RepairVendor        string          `json:"repairVendor,omitempty"`
	RepairImageURL      string          `json:"repairImageUrl,omitempty"`
	ARI                 *ARIMeasurement `json:"ari,omitempty"`
	ARISegments         []ARISegment    `json:"ariSegments,omitempty"`
}

// CompletionMeta is recorded when an admin marks a case PROCESSED.
type CompletionMeta struct {
	ReportTime     *time.Time `json:"reportTime,omitempty"`
	ResponseTime   *time.Time `json:"responseTime,omitempty"`
	RepairVendor   string     `json:"repairVendor,omitempty"`
	RepairImageURL string     `json:"repairImageUrl,omitempty"`
}

// NewCase holds the fields supplied when a report is submitted.
type NewCase struct {
	ImageURL      string
	UserID        string
	Latitude      *float64
	Longitude     *float64
	Category      string
	Subcategory   string
	NewFormOption string
	DetailOption  string
	ExtraDetails  string
	Address       string
}
