package schema

import (
	"errors"
	"testing"
)

func TestValidate(t *testing.T) {
	v, err := NewValidator()
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		schema string
		body   string
		valid  bool
	}{
		{"like ok", LikeCase, `{"caseId":"A000001","userId":"u1"}`, true},
		{"like missing user", LikeCase, `{"caseId":"A000001"}`, false},
		{"like empty case", LikeCase, `{"caseId":"","userId":"u1"}`, false},
		{"comment ok", Comment, `{"userId":"u1","userName":"Ann","text":"坑洞很深"}`, true},
		{"comment without text", Comment, `{"userId":"u1"}`, false},
		{"comment like ok", CommentLike, `{"userId":"u1"}`, true},
		{"status ok", CaseStatus, `{"caseId":"A000001","status":"PROCESSED","repairVendor":"ACME"}`, true},
		{"status wrong type", CaseStatus, `{"caseId":"A000001","status":3}`, false},
		{"revert without status", RevertStatus, `{"caseId":"A000001"}`, true},
		{"delete ok", DeleteCase, `{"caseId":"A000001"}`, true},
		{"ari ok", ARIMeasure, `{"caseId":"A000001","ariData":{"ARI":1.2,"totalDistance":300,"badRoadSegments":[{"startARI":1.7,"endARI":2.1,"distance":20}]}}`, true},
		{"ari null index", ARIMeasure, `{"caseId":"A000001","ariData":{"ARI":null}}`, true},
		{"ari missing data", ARIMeasure, `{"caseId":"A000001"}`, false},
		{"ari negative distance", ARIMeasure, `{"caseId":"A000001","ariData":{"totalDistance":-1}}`, false},
		{"login ok", Login, `{"userId":"u1"}`, true},
		{"upload info not object", UploadInfo, `[]`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.schema, []byte(tt.body))
			if tt.valid && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalid) {
				t.Errorf("got %v, want ErrInvalid", err)
			}
		})
	}
}

func TestValidateIssuesAndMalformed(t *testing.T) {
	v, _ := NewValidator()

	err := v.Validate(LikeCase, []byte(`{}`))
	var verr *ValidationError
	if !errors.As(err, &verr) || len(verr.Issues) != 2 {
		t.Fatalf("got %v, want two issues", err)
	}

	if err := v.Validate(Login, []byte(`{"userId":`)); !errors.Is(err, ErrInvalid) {
		t.Errorf("malformed body: got %v", err)
	}
	if err := v.Validate("nope", []byte(`{}`)); err == nil || errors.Is(err, ErrInvalid) {
		t.Errorf("unknown schema: got %v", err)
	}
}
