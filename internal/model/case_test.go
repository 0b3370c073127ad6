// internal/model/case_test.go
package model

import (
	"encoding/json"
	"testing"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in   string
		want Status
		ok   bool
	}{
		{"UNPROCESSED", StatusUnprocessed, true},
		{"in_progress", StatusInProgress, true},
		{"PROCESSED", StatusProcessed, true},
		{"尚未處理", StatusUnprocessed, true},
		{"未處理", StatusUnprocessed, true},
		{"處理中", StatusInProgress, true},
		{" 已處理 ", StatusProcessed, true},
		{"DONE", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseStatus(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseStatus(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestStatusUnmarshalLegacy(t *testing.T) {
	var c Case
	if err := json.Unmarshal([]byte(`{"caseId":"A000001","status":"處理中"}`), &c); err != nil {
		t.Fatal(err)
	}
	if c.Status != StatusInProgress {
		t.Errorf("status = %q, want IN_PROGRESS", c.Status)
	}
}

func TestLikeSet(t *testing.T) {
	var l LikeSet
	if !l.Add("u1") {
		t.Fatal("Add on nil set reported no change")
	}
	if l.Add("u1") {
		t.Error("duplicate Add reported a change")
	}
	l.Add("u2")
	if l.Len() != 2 || !l.Contains("u2") {
		t.Errorf("Len = %d", l.Len())
	}
	if !l.Remove("u1") || l.Remove("u1") {
		t.Error("Remove did not report change exactly once")
	}

	// false entries written by older clients do not count
	l["u3"] = false
	if l.Len() != 1 {
		t.Errorf("Len with false entry = %d, want 1", l.Len())
	}
	if got := l.Users(); len(got) != 1 || got[0] != "u2" {
		t.Errorf("Users = %v", got)
	}
}
