package capture

import "testing"

func TestDomainBlocklist(t *testing.T) {
	t.Parallel()

	matcher := NewDomainBlocklist([]string{
		"tracker.io",
		"*.google-analytics.com",
		".hotjar.com",
		"  ",
	})
	if matcher == nil {
		t.Fatal("expected matcher")
	}

	cases := map[string]bool{
		"tracker.io":               true,
		"cdn.tracker.io":           false,
		"google-analytics.com":     true,
		"www.google-analytics.com": true,
		"static.hotjar.com":        true,
		"acme.example":             false,
		"notgoogle-analytics.com":  false,
		"":                         false,
	}
	for host, want := range cases {
		if got := matcher.IsBlocked(host); got != want {
			t.Errorf("IsBlocked(%q) = %v, want %v", host, got, want)
		}
	}

	if !matcher.BlocksURL("https://www.google-analytics.com/analytics.js") {
		t.Error("expected analytics script URL to be blocked")
	}
	if matcher.BlocksURL("https://acme.example/app.js") {
		t.Error("expected first-party URL to pass")
	}
}

func TestDomainBlocklistEmpty(t *testing.T) {
	t.Parallel()

	var matcher *DomainBlocklist = NewDomainBlocklist([]string{"", " "})
	if matcher != nil {
		t.Fatal("expected nil matcher for empty patterns")
	}
	if matcher.IsBlocked("tracker.io") {
		t.Fatal("nil matcher must not block")
	}
}
