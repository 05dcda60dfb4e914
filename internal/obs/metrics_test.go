package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                               "/",
		"/metrics":                       "/metrics",
		"/api/roles/12":                  "/api/roles/:id",
		"/api/roles/12/permissions/7":    "/api/roles/:id/permissions/:id",
		"/api/roles/name/ADMIN":          "/api/roles/name/ADMIN",
		"/api/users/email/a@example.com": "/api/users/email/:email",
		"/api/users/search?q=alice":      "/api/users/search",
		"/api/auth/sessions/42":          "/api/auth/sessions/:id",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
