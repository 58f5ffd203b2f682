package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHasAtLeast(t *testing.T) {
	tests := []struct {
		name     string
		roles    []string
		required string
		want     bool
	}{
		{"viewer meets viewer", []string{"viewer"}, RoleViewer, true},
		{"viewer below editor", []string{"viewer"}, RoleEditor, false},
		{"editor meets viewer", []string{"editor"}, RoleViewer, true},
		{"admin meets editor", []string{"admin"}, RoleEditor, true},
		{"mixed case", []string{"Admin"}, RoleAdmin, true},
		{"unknown role only", []string{"ghost"}, RoleViewer, false},
		{"no roles", nil, RoleViewer, false},
		{"unknown requirement", []string{"admin"}, "owner", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := HasAtLeast(tc.roles, tc.required); got != tc.want {
				t.Fatalf("HasAtLeast(%v, %q)=%v, want %v", tc.roles, tc.required, got, tc.want)
			}
		})
	}
}

func TestRequiredRoleForRequest(t *testing.T) {
	get := httptest.NewRequest(http.MethodGet, "/api/v1/projects/p1/pipelines", nil)
	if got := RequiredRoleForRequest(get); got != RoleViewer {
		t.Fatalf("GET role=%q, want viewer", got)
	}
	post := httptest.NewRequest(http.MethodPost, "/api/v1/projects/p1/pipelines", nil)
	if got := RequiredRoleForRequest(post); got != RoleEditor {
		t.Fatalf("POST role=%q, want editor", got)
	}
}
