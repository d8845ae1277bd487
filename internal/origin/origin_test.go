package origin

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		wantNorm string
		wantHost string
		wantOK   bool
	}{
		{"simple https", "https://app.example.com", "https://app.example.com", "app.example.com", true},
		{"uppercase host", "https://App.Example.COM", "https://app.example.com", "app.example.com", true},
		{"default https port stripped", "https://app.example.com:443", "https://app.example.com", "app.example.com", true},
		{"default http port stripped", "http://app.example.com:80", "http://app.example.com", "app.example.com", true},
		{"custom port kept", "http://localhost:3000", "http://localhost:3000", "localhost:3000", true},
		{"ipv6 literal", "https://[2001:db8::1]:8443", "https://[2001:db8::1]:8443", "[2001:db8::1]:8443", true},
		{"null origin", "null", "null", "", true},
		{"empty", "", "", "", false},
		{"no scheme", "app.example.com", "", "", false},
		{"ftp scheme", "ftp://app.example.com", "", "", false},
		{"path rejected", "https://app.example.com/login", "", "", false},
		{"query rejected", "https://app.example.com?x=1", "", "", false},
		{"userinfo rejected", "https://user@app.example.com", "", "", false},
		{"zero port", "https://app.example.com:0", "", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			norm, host, ok := Normalize(tc.header)
			if ok != tc.wantOK || norm != tc.wantNorm || host != tc.wantHost {
				t.Fatalf("Normalize(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tc.header, norm, host, ok, tc.wantNorm, tc.wantHost, tc.wantOK)
			}
		})
	}
}

func TestAllowed_Allowlist(t *testing.T) {
	allowlist := []string{"https://app.example.com", "http://localhost:3000"}

	if !Allowed("https://app.example.com", "app.example.com", "relay.example.com", allowlist) {
		t.Fatal("allowlisted origin rejected")
	}
	if Allowed("https://evil.example.com", "evil.example.com", "relay.example.com", allowlist) {
		t.Fatal("unlisted origin allowed")
	}
	if !Allowed("https://anything.example.com", "anything.example.com", "relay.example.com", []string{"*"}) {
		t.Fatal("wildcard rejected origin")
	}
}

func TestAllowed_SameHostDefault(t *testing.T) {
	if !Allowed("https://relay.example.com", "relay.example.com", "relay.example.com", nil) {
		t.Fatal("same host rejected")
	}
	if !Allowed("https://relay.example.com", "relay.example.com", "relay.example.com:443", nil) {
		t.Fatal("default port on request host should match")
	}
	if Allowed("https://other.example.com", "other.example.com", "relay.example.com", nil) {
		t.Fatal("cross host allowed without allowlist")
	}
	if Allowed("null", "", "relay.example.com", nil) {
		t.Fatal("null origin allowed without allowlist")
	}
}
