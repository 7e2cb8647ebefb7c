package haproxy

import (
	"testing"
	"time"
)

func TestRequestLinePattern_PathCharacters(t *testing.T) {
	paths := []string{
		"/path/to/image",
		"/path/with/port:80",
		"/path/with/example.com",
		"/path/to/article#section",
		"/article?hello=world&goodbye=lennin",
		"/article-with-dashes_and_underscores",
		"/redirect_to?http://example.com",
		"/@@funny",
		"/something%20encoded",
		"/++adding++is+always+fun",
		"/here_or|here",
		"/here~~~e",
		"/here_*or",
		"/something;or-not",
		"/something-important!probably",
		"/something$important",
		"/there's-one's-way-or-another's",
		"/there?la=as,is",
		"/here_or(here)",
		"/here_or[here]",
		"/georg}von{grote/\\",
		"/here_or<",
		"/here_or>",
		"/georg-von-grote/\\",
		"/georg`von´grote/\\",
		"/georg`von^grote/\\",
	}
	for _, path := range paths {
		m := requestLineRe.FindStringSubmatch("GET " + path + " HTTP/1.1")
		if m == nil {
			t.Errorf("Expected request line with path %q to match", path)
			continue
		}
		if m[1] != "GET" {
			t.Errorf("Path %q: expected method 'GET', got '%s'", path, m[1])
		}
		if m[2] != path {
			t.Errorf("Expected path %q, got %q", path, m[2])
		}
		if m[3] != "HTTP/1.1" {
			t.Errorf("Path %q: expected protocol 'HTTP/1.1', got '%s'", path, m[3])
		}
	}
}

func TestRequestLinePattern_Methods(t *testing.T) {
	for _, method := range []string{"GET", "POST", "DELETE", "PATCH", "PUT"} {
		m := requestLineRe.FindStringSubmatch(method + " /index.html HTTP/1.0")
		if m == nil || m[1] != method {
			t.Errorf("Expected method %q to match, got %v", method, m)
		}
	}
}

func TestSplitBackendServer(t *testing.T) {
	cases := []struct {
		token           string
		backend, server string
		ok              bool
	}{
		{"default/instance8", "default", "instance8", true},
		{"pool/a/instance3", "pool/a", "instance3", true},
		{"noslash", "", "", false},
	}
	for _, tc := range cases {
		backend, server, ok := splitBackendServer(tc.token)
		if ok != tc.ok || backend != tc.backend || server != tc.server {
			t.Errorf("token %q: got (%q, %q, %v), expected (%q, %q, %v)",
				tc.token, backend, server, ok, tc.backend, tc.server, tc.ok)
		}
	}
}

func TestMatchLine_SyslogCutPoints(t *testing.T) {
	// the "]:" inside the message must not confuse prefix detection; the
	// rightmost prefix candidate that yields a full match wins
	line := defaultSyslogPrefix + " " +
		`127.0.0.1:2345 [09/Dec/2013:12:59:46.633] loadbalancer default/instance8 ` +
		`0/1/2/3/4 200 100 - - ---- 1/1/1/1/0 0/0 "GET /a]:b HTTP/1.1"`
	caps, ok := matchLine(line)
	if !ok {
		t.Fatal("Expected line to match")
	}
	if caps.clientIP != "127.0.0.1" {
		t.Errorf("Expected clientIP '127.0.0.1', got '%s'", caps.clientIP)
	}
	if caps.request == nil || *caps.request != "GET /a]:b HTTP/1.1" {
		t.Errorf("Expected request to survive the embedded ']:', got %v", caps.request)
	}
}

func TestMatchLine_PrefixRequiresTrailingWhitespace(t *testing.T) {
	// a "]:" glued to the address is not a syslog boundary
	if _, ok := matchLine("prefix]:127.0.0.1:2345 rest"); ok {
		t.Error("Expected no match when ']:' is not followed by whitespace")
	}
}

func TestMatchTail_Forms(t *testing.T) {
	cases := []struct {
		name       string
		tail       string
		reqH, resp *string
		request    *string
		ok         bool
	}{
		{"empty", "", nil, nil, nil, true},
		{"whitespace only", "   ", nil, nil, nil, true},
		{"request only", ` "GET / HTTP/1.1"`, nil, nil, strPtr("GET / HTTP/1.1"), true},
		{"one group", ` {a} "GET / HTTP/1.1"`, strPtr("a"), nil, strPtr("GET / HTTP/1.1"), true},
		{"two groups", ` {a} {b} "GET / HTTP/1.1"`, strPtr("a"), strPtr("b"), strPtr("GET / HTTP/1.1"), true},
		{"unterminated quote", ` "GET /tru`, nil, nil, strPtr("GET /tru"), true},
		{"group without request", ` {a} `, nil, nil, nil, false},
		{"empty quotes", ` ""`, nil, nil, nil, false},
	}
	for _, tc := range cases {
		reqH, respH, request, ok := matchTail(tc.tail)
		if ok != tc.ok {
			t.Errorf("%s: expected ok=%v, got %v", tc.name, tc.ok, ok)
			continue
		}
		if !strPtrEqual(reqH, tc.reqH) || !strPtrEqual(respH, tc.resp) || !strPtrEqual(request, tc.request) {
			t.Errorf("%s: got (%v, %v, %v)", tc.name, deref(reqH), deref(respH), deref(request))
		}
	}
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func deref(s *string) string {
	if s == nil {
		return "<nil>"
	}
	return *s
}

func TestParseAcceptDate(t *testing.T) {
	cases := []struct {
		raw      string
		expected time.Time
	}{
		{
			"09/Dec/2013:12:59:46.633",
			time.Date(2013, time.December, 9, 12, 59, 46, 633000000, time.UTC),
		},
		{
			"09/Dec/2013:12:59:46.633444",
			time.Date(2013, time.December, 9, 12, 59, 46, 633444000, time.UTC),
		},
		{
			"01/Jan/2020:00:00:00.000000",
			time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, tc := range cases {
		got, err := ParseAcceptDate(tc.raw)
		if err != nil {
			t.Errorf("Failed to parse %q: %v", tc.raw, err)
			continue
		}
		if !got.Equal(tc.expected) {
			t.Errorf("%q: expected %v, got %v", tc.raw, tc.expected, got)
		}
	}
}

func TestParseAcceptDate_Invalid(t *testing.T) {
	for _, raw := range []string{"", "32/Dec/2013:12:59:46.633", "09/Foo/2013:12:59:46", "not a date"} {
		if _, err := ParseAcceptDate(raw); err == nil {
			t.Errorf("Expected an error for %q", raw)
		}
	}
}
