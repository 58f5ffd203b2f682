package auth

import (
	"strconv"
	"testing"
	"time"
)

func TestComputeAndVerifyInternalAuthSignature(t *testing.T) {
	ts := strconv.FormatInt(time.Now().UTC().Unix(), 10)
	sig, err := ComputeInternalAuthSignature("secret", ts, "POST", "/api/v1/projects/p1/pipelines", "req-1", "user-1", "user@example.com", "editor")
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if sig == "" {
		t.Fatalf("compute: empty signature")
	}

	if err := VerifyInternalAuthSignature("secret", ts, "POST", "/api/v1/projects/p1/pipelines", "req-1", "user-1", "user@example.com", "editor", sig); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyInternalAuthSignature_WrongSecret(t *testing.T) {
	ts := strconv.FormatInt(time.Now().UTC().Unix(), 10)
	sig, err := ComputeInternalAuthSignature("secret", ts, "GET", "/api/v1/projects/p1/pipelines", "req-1", "user-1", "", "viewer")
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if err := VerifyInternalAuthSignature("other", ts, "GET", "/api/v1/projects/p1/pipelines", "req-1", "user-1", "", "viewer", sig); err == nil {
		t.Fatalf("verify: expected error for wrong secret")
	}
}

func TestVerifyInternalAuthSignature_TamperedPath(t *testing.T) {
	ts := strconv.FormatInt(time.Now().UTC().Unix(), 10)
	sig, err := ComputeInternalAuthSignature("secret", ts, "GET", "/api/v1/projects/p1/pipelines", "req-1", "user-1", "", "viewer")
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if err := VerifyInternalAuthSignature("secret", ts, "GET", "/api/v1/projects/p2/pipelines", "req-1", "user-1", "", "viewer", sig); err == nil {
		t.Fatalf("verify: expected error for tampered path")
	}
}

func TestVerifyInternalAuthTimestamp(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		ts      string
		wantErr bool
	}{
		{"fresh", strconv.FormatInt(now.Unix(), 10), false},
		{"within skew", strconv.FormatInt(now.Add(-4*time.Minute).Unix(), 10), false},
		{"too old", strconv.FormatInt(now.Add(-10*time.Minute).Unix(), 10), true},
		{"too far future", strconv.FormatInt(now.Add(10*time.Minute).Unix(), 10), true},
		{"not a number", "yesterday", true},
		{"empty", "", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := VerifyInternalAuthTimestamp(tc.ts, now, 5*time.Minute)
			if tc.wantErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
