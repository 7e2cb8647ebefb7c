package ingestion

import (
	"testing"
	"time"

	"halog/internal/database/models"
	"halog/internal/parser/haproxy"
)

func strPtr(s string) *string {
	return &s
}

func testProcessor() *SourceProcessor {
	return &SourceProcessor{
		source: &models.LogSource{Name: "haproxy-main", Path: "/var/log/haproxy.log"},
		logger: testLogger(),
	}
}

func TestConvertToSession_HTTP(t *testing.T) {
	accept := time.Date(2013, time.December, 9, 12, 59, 46, 633000000, time.UTC)
	record := &haproxy.LogRecord{
		Kind:         haproxy.KindHTTP,
		Valid:        true,
		ClientIP:     "127.0.0.1",
		ClientPort:   2345,
		AcceptTime:   accept,
		FrontendName: "loadbalancer",
		BackendName:  "default",
		ServerName:   "instance8",

		ConnectionsActive:   87,
		ConnectionsFrontend: 89,
		ConnectionsBackend:  98,
		ConnectionsServer:   1,
		Retries:             "+20",
		QueueServer:         2,
		QueueBackend:        67,

		HTTP: &haproxy.HTTPDetail{
			TimeWaitRequest:         0,
			TimeWaitQueue:           51536,
			TimeConnectServer:       1,
			TimeWaitResponse:        48082,
			TotalTime:               99627,
			StatusCode:              "200",
			BytesRead:               "+83285",
			CapturedRequestHeaders:  strPtr("77.24.148.74"),
			CapturedResponseHeaders: strPtr("text/html"),
			Request: &haproxy.RequestLine{
				Parseable: true,
				Method:    "GET",
				Path:      "/image.png:443/x",
				Protocol:  "HTTP/1.1",
			},
		},
	}

	session := testProcessor().convertToSession(record)

	if session.SourceName != "haproxy-main" {
		t.Errorf("Expected source name haproxy-main, got %q", session.SourceName)
	}
	if session.LogType != "http" {
		t.Errorf("Expected log type http, got %q", session.LogType)
	}
	if !session.AcceptTime.Equal(accept) {
		t.Errorf("Expected accept time %v, got %v", accept, session.AcceptTime)
	}
	if session.ResolvedIP != "77.24.148.74" {
		t.Errorf("Expected resolved IP from captured headers, got %q", session.ResolvedIP)
	}
	if session.StatusCode != "200" {
		t.Errorf("Expected status code 200, got %q", session.StatusCode)
	}
	if session.BytesRead != 83285 {
		t.Errorf("Expected bytes read 83285, got %d", session.BytesRead)
	}
	if session.Method != "GET" || session.Path != "/image.png:443/x" || session.Protocol != "HTTP/1.1" {
		t.Errorf("Unexpected request fields: %q %q %q", session.Method, session.Path, session.Protocol)
	}
	if !session.HTTPS {
		t.Error("Expected HTTPS true for path containing :443")
	}
	if session.CapturedRequestHeaders != "77.24.148.74" || session.CapturedResponseHeaders != "text/html" {
		t.Errorf("Unexpected captured headers: %q %q",
			session.CapturedRequestHeaders, session.CapturedResponseHeaders)
	}
	if session.TimeWaitQueue != 51536 || session.TimeWaitResponse != 48082 || session.TotalTime != 99627 {
		t.Errorf("Unexpected timers: %d %d %d",
			session.TimeWaitQueue, session.TimeWaitResponse, session.TotalTime)
	}
	if session.Retries != "+20" {
		t.Errorf("Expected retries +20, got %q", session.Retries)
	}
}

func TestConvertToSession_TCP(t *testing.T) {
	record := &haproxy.LogRecord{
		Kind:         haproxy.KindTCP,
		Valid:        true,
		ClientIP:     "10.0.0.9",
		ClientPort:   33313,
		FrontendName: "mysql",
		BackendName:  "pool",
		ServerName:   "db1",
		Retries:      "0",
		TCP: &haproxy.TCPDetail{
			TimeWaitQueue:     1,
			TimeConnectServer: 0,
			TotalTime:         30002,
			BytesRead:         "-1",
		},
	}

	session := testProcessor().convertToSession(record)

	if session.LogType != "tcp" {
		t.Errorf("Expected log type tcp, got %q", session.LogType)
	}
	if session.TotalTime != 30002 {
		t.Errorf("Expected total time 30002, got %d", session.TotalTime)
	}
	if session.BytesRead != -1 {
		t.Errorf("Expected bytes read -1, got %d", session.BytesRead)
	}
	if session.ResolvedIP != "10.0.0.9" {
		t.Errorf("Expected resolved IP to fall back to client IP, got %q", session.ResolvedIP)
	}
	if session.HTTPS {
		t.Error("Expected HTTPS false for TCP session")
	}
	if session.Method != "" || session.Path != "" || session.Protocol != "" {
		t.Errorf("Expected empty request fields for TCP, got %q %q %q",
			session.Method, session.Path, session.Protocol)
	}
}

func TestConvertToSession_UnparseableRequest(t *testing.T) {
	record := &haproxy.LogRecord{
		Kind:  haproxy.KindHTTP,
		Valid: true,
		HTTP: &haproxy.HTTPDetail{
			StatusCode: "400",
			BytesRead:  "187",
			RawRequest: strPtr("<BADREQ>"),
			Request: &haproxy.RequestLine{
				Parseable: false,
				Method:    haproxy.RequestInvalid,
				Path:      haproxy.RequestInvalid,
				Protocol:  haproxy.RequestInvalid,
			},
		},
	}

	session := testProcessor().convertToSession(record)

	if session.Method != haproxy.RequestInvalid || session.Path != haproxy.RequestInvalid {
		t.Errorf("Expected sentinel request fields, got %q %q", session.Method, session.Path)
	}
	if session.HTTPS {
		t.Error("Expected HTTPS false for unparseable request")
	}
}

func TestParseBytes(t *testing.T) {
	tests := []struct {
		raw      string
		expected int64
	}{
		{"83285", 83285},
		{"+83285", 83285},
		{"-1", -1},
		{"0", 0},
		{"garbage", 0},
	}

	for _, tt := range tests {
		if got := parseBytes(tt.raw); got != tt.expected {
			t.Errorf("parseBytes(%q): expected %d, got %d", tt.raw, tt.expected, got)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("Expected unchanged string, got %q", got)
	}
	if got := truncate("0123456789abc", 10); got != "0123456789..." {
		t.Errorf("Expected truncated string, got %q", got)
	}
}
