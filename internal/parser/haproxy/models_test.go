package haproxy

import (
	"testing"
	"time"
)

func strPtr(s string) *string { return &s }

func TestResolvedIP_FromCapturedHeaders(t *testing.T) {
	cases := []struct {
		name     string
		headers  *string
		expected string
	}{
		{"single header", strPtr("1.2.3.4"), "1.2.3.4"},
		{"first of several", strPtr("1.2.3.4|curl/7.64|keep-alive"), "1.2.3.4"},
		{"ipv6 header", strPtr("1f21:14ba:c21a:f00::1|Mozilla"), "1f21:14ba:c21a:f00::1"},
		{"empty capture", strPtr(""), "127.0.0.1"},
		{"empty first token", strPtr("|Mozilla"), "127.0.0.1"},
		{"no capture", nil, "127.0.0.1"},
	}
	for _, tc := range cases {
		rec := &LogRecord{
			ClientIP: "127.0.0.1",
			HTTP:     &HTTPDetail{CapturedRequestHeaders: tc.headers},
		}
		if got := rec.ResolvedIP(); got != tc.expected {
			t.Errorf("%s: expected '%s', got '%s'", tc.name, tc.expected, got)
		}
	}
}

func TestResolvedIP_TCPRecord(t *testing.T) {
	rec := &LogRecord{ClientIP: "10.0.0.9", TCP: &TCPDetail{}}
	if got := rec.ResolvedIP(); got != "10.0.0.9" {
		t.Errorf("Expected client IP fallback for TCP records, got '%s'", got)
	}
}

func TestIsHTTPS(t *testing.T) {
	https := mustParse(t, buildHTTPLine(lineOpts{request: "GET /domain:443/to/image HTTP/1.1"}))
	if !https.IsHTTPS() {
		t.Error("Expected a :443 path to report HTTPS")
	}

	http := mustParse(t, buildHTTPLine(lineOpts{request: "GET /domain:80/to/image HTTP/1.1"}))
	if http.IsHTTPS() {
		t.Error("Expected a :80 path to not report HTTPS")
	}

	tcp := mustParse(t, buildTCPLine(lineOpts{}))
	if tcp.IsHTTPS() {
		t.Error("Expected a TCP record to never report HTTPS")
	}

	unparseable := mustParse(t, buildHTTPLine(lineOpts{request: "<BADREQ>"}))
	if unparseable.IsHTTPS() {
		t.Error("Expected an unparseable request to not report HTTPS")
	}
}

func TestWithinTimeFrame(t *testing.T) {
	rec := mustParse(t, buildHTTPLine(lineOpts{}))

	past := time.Date(2013, time.December, 9, 10, 0, 0, 0, time.UTC)
	future := time.Date(2013, time.December, 9, 14, 0, 0, 0, time.UTC)
	farPast := time.Date(2013, time.December, 8, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name       string
		start, end time.Time
		expected   bool
	}{
		{"unbounded", time.Time{}, time.Time{}, true},
		{"after past start", past, time.Time{}, true},
		{"before future start", future, time.Time{}, false},
		{"inside window", past, future, true},
		{"window entirely before", farPast, past, false},
		{"exact accept time bounds", rec.AcceptTime, rec.AcceptTime, true},
	}
	for _, tc := range cases {
		if got := rec.WithinTimeFrame(tc.start, tc.end); got != tc.expected {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.expected, got)
		}
	}
}

func TestLineKind_String(t *testing.T) {
	if KindHTTP.String() != "http" {
		t.Errorf("Expected 'http', got '%s'", KindHTTP.String())
	}
	if KindTCP.String() != "tcp" {
		t.Errorf("Expected 'tcp', got '%s'", KindTCP.String())
	}
}
