package haproxy

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/pterm/pterm"
)

const defaultSyslogPrefix = "Dec  9 13:01:26 localhost haproxy[28029]:"

// lineOpts builds test lines field by field; zero values fall back to the
// defaults of the canonical example line.
type lineOpts struct {
	syslog      string
	address     string
	acceptDate  string
	names       string
	timers      string
	statusBytes string // HTTP only
	bytes       string // TCP only
	counters    string
	queues      string
	headers     string // including leading space, as on the wire
	noHeaders   bool
	request     string
}

func buildHTTPLine(o lineOpts) string {
	if o.syslog == "" {
		o.syslog = defaultSyslogPrefix
	}
	if o.address == "" {
		o.address = "127.0.0.1:2345"
	}
	if o.acceptDate == "" {
		o.acceptDate = "09/Dec/2013:12:59:46.633"
	}
	if o.names == "" {
		o.names = "loadbalancer default/instance8"
	}
	if o.timers == "" {
		o.timers = "0/51536/1/48082/99627"
	}
	if o.statusBytes == "" {
		o.statusBytes = "200 83285"
	}
	if o.counters == "" {
		o.counters = "87/89/98/1/20"
	}
	if o.queues == "" {
		o.queues = "2/67"
	}
	if o.headers == "" && !o.noHeaders {
		o.headers = " {77.24.148.74}"
	}
	if o.request == "" {
		o.request = "GET /path/to/image HTTP/1.1"
	}
	return fmt.Sprintf("%s %s [%s] %s %s %s - - ---- %s %s%s \"%s\"",
		o.syslog, o.address, o.acceptDate, o.names, o.timers, o.statusBytes,
		o.counters, o.queues, o.headers, o.request)
}

func buildTCPLine(o lineOpts) string {
	if o.syslog == "" {
		o.syslog = defaultSyslogPrefix
	}
	if o.address == "" {
		o.address = "127.0.0.1:2345"
	}
	if o.acceptDate == "" {
		o.acceptDate = "09/Dec/2013:12:59:46.633"
	}
	if o.names == "" {
		o.names = "loadbalancer default/instance8"
	}
	if o.timers == "" {
		o.timers = "51536/1/302045"
	}
	if o.bytes == "" {
		o.bytes = "18923"
	}
	if o.counters == "" {
		o.counters = "87/89/98/1/20"
	}
	if o.queues == "" {
		o.queues = "2/67"
	}
	return fmt.Sprintf("%s %s [%s] %s %s %s -- %s %s",
		o.syslog, o.address, o.acceptDate, o.names, o.timers, o.bytes,
		o.counters, o.queues)
}

func testParser() *Parser {
	logger := pterm.DefaultLogger.WithLevel(pterm.LogLevelTrace)
	return NewParser(logger)
}

func mustParse(t *testing.T, line string) *LogRecord {
	t.Helper()
	rec, err := testParser().Parse(line)
	if err != nil {
		t.Fatalf("Failed to parse line %q: %v", line, err)
	}
	return rec
}

func TestParser_Name(t *testing.T) {
	if got := testParser().Name(); got != "haproxy" {
		t.Errorf("Expected parser name 'haproxy', got '%s'", got)
	}
}

func TestParser_CanParse(t *testing.T) {
	parser := testParser()

	if !parser.CanParse(buildHTTPLine(lineOpts{})) {
		t.Error("Expected parser to accept an HTTP-format line")
	}
	if !parser.CanParse(buildTCPLine(lineOpts{})) {
		t.Error("Expected parser to accept a TCP-format line")
	}
	if !parser.CanParse("127.0.0.1:2345 [09/Dec/2013:12:59:46.633] fe be/srv 1/2/3 42 -- 0/0/0/0/0 0/0") {
		t.Error("Expected parser to accept a line without syslog prefix")
	}
	if parser.CanParse(`{"level":"info","msg":"handled request"}`) {
		t.Error("Expected parser to reject a JSON log line")
	}
	if parser.CanParse("not a haproxy line at all") {
		t.Error("Expected parser to reject garbage")
	}
}

func TestParse_DefaultHTTPValues(t *testing.T) {
	line := buildHTTPLine(lineOpts{})
	rec := mustParse(t, line)

	if !rec.Valid {
		t.Fatal("Expected record to be valid")
	}
	if rec.Kind != KindHTTP {
		t.Fatalf("Expected KindHTTP, got %v", rec.Kind)
	}
	if rec.RawLine != line {
		t.Error("Expected RawLine to retain the original input")
	}
	if rec.HTTP == nil {
		t.Fatal("Expected HTTP field group to be populated")
	}
	if rec.TCP != nil {
		t.Error("Expected TCP field group to be absent on an HTTP line")
	}

	if rec.ClientIP != "127.0.0.1" {
		t.Errorf("Expected ClientIP '127.0.0.1', got '%s'", rec.ClientIP)
	}
	if rec.ClientPort != 2345 {
		t.Errorf("Expected ClientPort 2345, got %d", rec.ClientPort)
	}

	if rec.RawAcceptTime != "09/Dec/2013:12:59:46.633" {
		t.Errorf("Expected raw accept time kept verbatim, got '%s'", rec.RawAcceptTime)
	}
	want := time.Date(2013, time.December, 9, 12, 59, 46, 633000000, time.UTC)
	if !rec.AcceptTime.Equal(want) {
		t.Errorf("Expected accept time %v, got %v", want, rec.AcceptTime)
	}

	if rec.FrontendName != "loadbalancer" {
		t.Errorf("Expected FrontendName 'loadbalancer', got '%s'", rec.FrontendName)
	}
	if rec.BackendName != "default" {
		t.Errorf("Expected BackendName 'default', got '%s'", rec.BackendName)
	}
	if rec.ServerName != "instance8" {
		t.Errorf("Expected ServerName 'instance8', got '%s'", rec.ServerName)
	}

	if rec.HTTP.TimeWaitRequest != 0 {
		t.Errorf("Expected Tq 0, got %d", rec.HTTP.TimeWaitRequest)
	}
	if rec.HTTP.TimeWaitQueue != 51536 {
		t.Errorf("Expected Tw 51536, got %d", rec.HTTP.TimeWaitQueue)
	}
	if rec.HTTP.TimeConnectServer != 1 {
		t.Errorf("Expected Tc 1, got %d", rec.HTTP.TimeConnectServer)
	}
	if rec.HTTP.TimeWaitResponse != 48082 {
		t.Errorf("Expected Tr 48082, got %d", rec.HTTP.TimeWaitResponse)
	}
	if rec.HTTP.TotalTime != 99627 {
		t.Errorf("Expected Ta 99627, got %d", rec.HTTP.TotalTime)
	}

	if rec.HTTP.StatusCode != "200" {
		t.Errorf("Expected StatusCode '200', got '%s'", rec.HTTP.StatusCode)
	}
	if rec.HTTP.BytesRead != "83285" {
		t.Errorf("Expected BytesRead '83285', got '%s'", rec.HTTP.BytesRead)
	}

	if rec.ConnectionsActive != 87 || rec.ConnectionsFrontend != 89 ||
		rec.ConnectionsBackend != 98 || rec.ConnectionsServer != 1 {
		t.Errorf("Unexpected connection counters: %d/%d/%d/%d",
			rec.ConnectionsActive, rec.ConnectionsFrontend,
			rec.ConnectionsBackend, rec.ConnectionsServer)
	}
	if rec.Retries != "20" {
		t.Errorf("Expected Retries '20', got '%s'", rec.Retries)
	}
	if rec.QueueServer != 2 || rec.QueueBackend != 67 {
		t.Errorf("Unexpected queues: %d/%d", rec.QueueServer, rec.QueueBackend)
	}

	if rec.HTTP.CapturedRequestHeaders == nil || *rec.HTTP.CapturedRequestHeaders != "77.24.148.74" {
		t.Errorf("Expected captured request headers '77.24.148.74', got %v", rec.HTTP.CapturedRequestHeaders)
	}
	if rec.HTTP.CapturedResponseHeaders != nil {
		t.Error("Expected captured response headers to be absent")
	}

	if rec.HTTP.RawRequest == nil || *rec.HTTP.RawRequest != "GET /path/to/image HTTP/1.1" {
		t.Errorf("Expected raw request kept verbatim, got %v", rec.HTTP.RawRequest)
	}
	req := rec.HTTP.Request
	if req == nil || !req.Parseable {
		t.Fatalf("Expected a parseable request line, got %+v", req)
	}
	if req.Method != "GET" || req.Path != "/path/to/image" || req.Protocol != "HTTP/1.1" {
		t.Errorf("Unexpected request line: %+v", req)
	}
}

func TestParse_DefaultTCPValues(t *testing.T) {
	rec := mustParse(t, buildTCPLine(lineOpts{}))

	if !rec.Valid {
		t.Fatal("Expected record to be valid")
	}
	if rec.Kind != KindTCP {
		t.Fatalf("Expected KindTCP, got %v", rec.Kind)
	}
	if rec.TCP == nil {
		t.Fatal("Expected TCP field group to be populated")
	}
	if rec.HTTP != nil {
		t.Error("Expected HTTP field group to be absent on a TCP line")
	}

	if rec.TCP.TimeWaitQueue != 51536 {
		t.Errorf("Expected Tw 51536, got %d", rec.TCP.TimeWaitQueue)
	}
	if rec.TCP.TimeConnectServer != 1 {
		t.Errorf("Expected Tc 1, got %d", rec.TCP.TimeConnectServer)
	}
	if rec.TCP.TotalTime != 302045 {
		t.Errorf("Expected Tt 302045, got %d", rec.TCP.TotalTime)
	}
	if rec.TCP.BytesRead != "18923" {
		t.Errorf("Expected BytesRead '18923', got '%s'", rec.TCP.BytesRead)
	}
}

func TestParse_HTTPTimerSigns(t *testing.T) {
	cases := []struct {
		timers                 string
		tq, tw, tc, tr, total  int
	}{
		{"0/0/0/0/0", 0, 0, 0, 0, 0},
		{"23/55/3/4/5", 23, 55, 3, 4, 5},
		{"-23/-33/-3/-4/5", -23, -33, -3, -4, 5},
		{"23/33/3/4/+5", 23, 33, 3, 4, 5},
	}
	for _, tc := range cases {
		rec := mustParse(t, buildHTTPLine(lineOpts{timers: tc.timers}))
		if !rec.Valid || rec.HTTP == nil {
			t.Fatalf("Expected valid HTTP record for timers %q", tc.timers)
		}
		d := rec.HTTP
		if d.TimeWaitRequest != tc.tq || d.TimeWaitQueue != tc.tw ||
			d.TimeConnectServer != tc.tc || d.TimeWaitResponse != tc.tr ||
			d.TotalTime != tc.total {
			t.Errorf("timers %q: got %d/%d/%d/%d/%d", tc.timers,
				d.TimeWaitRequest, d.TimeWaitQueue, d.TimeConnectServer,
				d.TimeWaitResponse, d.TotalTime)
		}
	}
}

func TestParse_TCPTimerSigns(t *testing.T) {
	cases := []struct {
		timers        string
		tw, tc, total int
	}{
		{"0/0/0", 0, 0, 0},
		{"23/55/3", 23, 55, 3},
		{"-23/-33/5", -23, -33, 5},
		{"23/33/+5", 23, 33, 5},
	}
	for _, tc := range cases {
		rec := mustParse(t, buildTCPLine(lineOpts{timers: tc.timers}))
		if !rec.Valid || rec.TCP == nil {
			t.Fatalf("Expected valid TCP record for timers %q", tc.timers)
		}
		d := rec.TCP
		if d.TimeWaitQueue != tc.tw || d.TimeConnectServer != tc.tc || d.TotalTime != tc.total {
			t.Errorf("timers %q: got %d/%d/%d", tc.timers,
				d.TimeWaitQueue, d.TimeConnectServer, d.TotalTime)
		}
	}
}

func TestParse_StatusAndBytesKeepSigns(t *testing.T) {
	cases := []struct{ status, bytes string }{
		{"200", "0"},
		{"-301", "543"},
		{"200", "+543"},
	}
	for _, tc := range cases {
		rec := mustParse(t, buildHTTPLine(lineOpts{statusBytes: tc.status + " " + tc.bytes}))
		if !rec.Valid || rec.HTTP == nil {
			t.Fatalf("Expected valid HTTP record for status/bytes %q %q", tc.status, tc.bytes)
		}
		if rec.HTTP.StatusCode != tc.status {
			t.Errorf("Expected StatusCode %q, got %q", tc.status, rec.HTTP.StatusCode)
		}
		if rec.HTTP.BytesRead != tc.bytes {
			t.Errorf("Expected BytesRead %q, got %q", tc.bytes, rec.HTTP.BytesRead)
		}
	}
}

func TestParse_ConnectionsAndRetries(t *testing.T) {
	rec := mustParse(t, buildHTTPLine(lineOpts{counters: "40/10/11/12/+14"}))
	if rec.ConnectionsActive != 40 || rec.ConnectionsFrontend != 10 ||
		rec.ConnectionsBackend != 11 || rec.ConnectionsServer != 12 {
		t.Errorf("Unexpected counters: %d/%d/%d/%d", rec.ConnectionsActive,
			rec.ConnectionsFrontend, rec.ConnectionsBackend, rec.ConnectionsServer)
	}
	// the redispatch marker survives
	if rec.Retries != "+14" {
		t.Errorf("Expected Retries '+14', got '%s'", rec.Retries)
	}
}

func TestParse_InvalidLine(t *testing.T) {
	line := buildHTTPLine(lineOpts{statusBytes: "200 wroooong"})
	rec := mustParse(t, line)

	if rec.Valid {
		t.Fatal("Expected record to be invalid")
	}
	if rec.RawLine != line {
		t.Error("Expected RawLine to be kept on invalid records")
	}
	if rec.HTTP != nil || rec.TCP != nil {
		t.Error("Expected no field group on an invalid record")
	}
	if rec.ClientIP != "" || rec.FrontendName != "" {
		t.Error("Expected all fields beyond RawLine to stay unset")
	}
}

func TestParse_Idempotence(t *testing.T) {
	for _, line := range []string{
		buildHTTPLine(lineOpts{}),
		buildTCPLine(lineOpts{}),
		"garbage that does not match",
	} {
		first := mustParse(t, line)
		second := mustParse(t, first.RawLine)
		if !reflect.DeepEqual(first, second) {
			t.Errorf("Re-parsing RawLine changed the record for %q", line)
		}
	}
}

func TestParse_UnparseableRequest(t *testing.T) {
	rec := mustParse(t, buildHTTPLine(lineOpts{request: "something"}))
	if !rec.Valid {
		t.Fatal("Expected the record itself to stay valid")
	}
	req := rec.HTTP.Request
	if req == nil || req.Parseable {
		t.Fatalf("Expected an unparseable request outcome, got %+v", req)
	}
	if req.Method != RequestInvalid || req.Path != RequestInvalid || req.Protocol != RequestInvalid {
		t.Errorf("Expected the %q sentinel in all request fields, got %+v", RequestInvalid, req)
	}
}

func TestParse_BadRequestPlaceholder(t *testing.T) {
	rec := mustParse(t, buildHTTPLine(lineOpts{request: "<BADREQ>"}))
	if !rec.Valid {
		t.Fatal("Expected the record to stay valid")
	}
	req := rec.HTTP.Request
	if req == nil || req.Parseable {
		t.Fatalf("Expected the placeholder to be unparseable, got %+v", req)
	}
	if rec.HTTP.RawRequest == nil || *rec.HTTP.RawRequest != BadRequestPlaceholder {
		t.Errorf("Expected the raw placeholder to be kept, got %v", rec.HTTP.RawRequest)
	}
}

func TestParse_RequestWithoutProtocol(t *testing.T) {
	rec := mustParse(t, buildHTTPLine(lineOpts{request: "GET /"}))
	req := rec.HTTP.Request
	if req == nil || !req.Parseable {
		t.Fatalf("Expected a parseable request, got %+v", req)
	}
	if req.Method != "GET" || req.Path != "/" {
		t.Errorf("Unexpected method/path: %+v", req)
	}
	if req.Protocol != "" {
		t.Errorf("Expected empty protocol for a truncated request, got %q", req.Protocol)
	}
}

func TestParse_TruncatedMidQuote(t *testing.T) {
	base := buildHTTPLine(lineOpts{request: "GET /truncated_pat"})
	line := strings.TrimSuffix(base, "\"")
	rec := mustParse(t, line)

	if !rec.Valid {
		t.Fatal("Expected a line truncated mid-quote to stay valid")
	}
	if rec.HTTP.RawRequest == nil || *rec.HTTP.RawRequest != "GET /truncated_pat" {
		t.Errorf("Expected the full trailing substring as raw request, got %v", rec.HTTP.RawRequest)
	}
	req := rec.HTTP.Request
	if req == nil || req.Method != "GET" || req.Path != "/truncated_pat" || req.Protocol != "" {
		t.Errorf("Unexpected request line: %+v", req)
	}
}

func TestParse_TruncatedAfterQueuePair(t *testing.T) {
	base := "127.0.0.1:2345 [09/Dec/2013:12:59:46.633] loadbalancer default/instance8 " +
		"0/51536/1/48082/99627 200 83285 - - ---- 87/89/98/1/20 2/67"

	for _, line := range []string{base, base + " ", base + "   "} {
		rec := mustParse(t, line)
		if !rec.Valid {
			t.Fatalf("Expected truncated line %q to be valid", line)
		}
		if rec.Kind != KindHTTP || rec.HTTP == nil {
			t.Fatal("Expected an HTTP record")
		}
		if rec.HTTP.RawRequest != nil || rec.HTTP.Request != nil {
			t.Error("Expected no request fields on a truncated line")
		}
		if rec.HTTP.CapturedRequestHeaders != nil || rec.HTTP.CapturedResponseHeaders != nil {
			t.Error("Expected no captured headers on a truncated line")
		}
	}
}

func TestParse_HeaderCaptureAmbiguity(t *testing.T) {
	// one brace group: request headers only
	rec := mustParse(t, buildHTTPLine(lineOpts{headers: " {multiple | request | headers}"}))
	if rec.HTTP.CapturedRequestHeaders == nil || *rec.HTTP.CapturedRequestHeaders != "multiple | request | headers" {
		t.Errorf("Expected single group to populate request headers, got %v", rec.HTTP.CapturedRequestHeaders)
	}
	if rec.HTTP.CapturedResponseHeaders != nil {
		t.Error("Expected response headers to stay absent with a single group")
	}

	// two brace groups: both populated independently
	rec = mustParse(t, buildHTTPLine(lineOpts{headers: " {something here} {and there}"}))
	if rec.HTTP.CapturedRequestHeaders == nil || *rec.HTTP.CapturedRequestHeaders != "something here" {
		t.Errorf("Expected request headers 'something here', got %v", rec.HTTP.CapturedRequestHeaders)
	}
	if rec.HTTP.CapturedResponseHeaders == nil || *rec.HTTP.CapturedResponseHeaders != "and there" {
		t.Errorf("Expected response headers 'and there', got %v", rec.HTTP.CapturedResponseHeaders)
	}

	// empty brace groups are present-but-empty, not absent
	rec = mustParse(t, buildHTTPLine(lineOpts{headers: " {} {}"}))
	if rec.HTTP.CapturedRequestHeaders == nil || *rec.HTTP.CapturedRequestHeaders != "" {
		t.Errorf("Expected empty request headers capture, got %v", rec.HTTP.CapturedRequestHeaders)
	}
	if rec.HTTP.CapturedResponseHeaders == nil || *rec.HTTP.CapturedResponseHeaders != "" {
		t.Errorf("Expected empty response headers capture, got %v", rec.HTTP.CapturedResponseHeaders)
	}

	// no brace groups at all
	rec = mustParse(t, buildHTTPLine(lineOpts{noHeaders: true}))
	if !rec.Valid {
		t.Fatal("Expected a line without captured headers to be valid")
	}
	if rec.HTTP.CapturedRequestHeaders != nil || rec.HTTP.CapturedResponseHeaders != nil {
		t.Error("Expected both header fields to be absent")
	}
}

func TestParse_SyslogPrefixVariants(t *testing.T) {
	prefixes := []string{
		"Dec  9 13:01:26 localhost haproxy[28029]:",
		"2017-07-06T14:29:39+02:00 localhost haproxy[28029]:",
		"Dec  9 13:01:26 ip-192-168-1-1 haproxy[28029]:",
		"Dec  9 13:01:26 dvd-ctrl1 haproxy[403100]:",
		"Dec  9 13:01:26 localhost.localdomain haproxy[2345]:",
	}
	for _, prefix := range prefixes {
		rec := mustParse(t, buildHTTPLine(lineOpts{syslog: prefix}))
		if !rec.Valid {
			t.Errorf("Expected line with syslog prefix %q to be valid", prefix)
		}
		if rec.ClientIP != "127.0.0.1" {
			t.Errorf("Prefix %q: expected ClientIP '127.0.0.1', got '%s'", prefix, rec.ClientIP)
		}
	}
}

func TestParse_NoSyslogPrefix(t *testing.T) {
	line := "127.0.0.1:2345 [09/Dec/2013:12:59:46.633] loadbalancer default/instance8 " +
		"51536/1/302045 18923 -- 87/89/98/1/20 2/67"
	rec := mustParse(t, line)
	if !rec.Valid {
		t.Fatal("Expected a bare connection line to be valid")
	}
	if rec.Kind != KindTCP {
		t.Errorf("Expected KindTCP, got %v", rec.Kind)
	}
	if rec.ClientIP != "127.0.0.1" || rec.ClientPort != 2345 {
		t.Errorf("Unexpected client address: %s:%d", rec.ClientIP, rec.ClientPort)
	}
}

func TestParse_IPv6Client(t *testing.T) {
	rec := mustParse(t, buildHTTPLine(lineOpts{address: "fe80::9379:c29e:6701:cef8:59738"}))
	if !rec.Valid {
		t.Fatal("Expected IPv6 line to be valid")
	}
	if rec.ClientIP != "fe80::9379:c29e:6701:cef8" {
		t.Errorf("Expected IPv6 client IP, got '%s'", rec.ClientIP)
	}
	if rec.ClientPort != 59738 {
		t.Errorf("Expected ClientPort 59738, got %d", rec.ClientPort)
	}
}

func TestParse_BackendNameWithSlash(t *testing.T) {
	rec := mustParse(t, buildHTTPLine(lineOpts{names: "lb pool/a/instance3"}))
	if rec.BackendName != "pool/a" {
		t.Errorf("Expected BackendName 'pool/a', got '%s'", rec.BackendName)
	}
	if rec.ServerName != "instance3" {
		t.Errorf("Expected ServerName 'instance3', got '%s'", rec.ServerName)
	}
}

func TestParse_CalendarInvalidAcceptDate(t *testing.T) {
	_, err := testParser().Parse(buildHTTPLine(lineOpts{acceptDate: "32/Dec/2013:12:59:46.633"}))
	if err == nil {
		t.Fatal("Expected a hard error for a calendar-invalid accept date")
	}
}

func TestParse_ExampleLineEndToEnd(t *testing.T) {
	line := `127.0.0.1:2345 [09/Dec/2013:12:59:46.633] loadbalancer default/instance8 ` +
		`0/51536/1/48082/99627 200 83285 - - ---- 87/89/98/1/20 2/67 {77.24.148.74} "GET /path/to/image HTTP/1.1"`
	rec := mustParse(t, line)

	if !rec.Valid {
		t.Fatal("Expected the example line to be valid")
	}
	if rec.ClientIP != "127.0.0.1" || rec.ClientPort != 2345 {
		t.Errorf("Unexpected client address: %s:%d", rec.ClientIP, rec.ClientPort)
	}
	if rec.FrontendName != "loadbalancer" || rec.BackendName != "default" || rec.ServerName != "instance8" {
		t.Errorf("Unexpected routing: %s %s/%s", rec.FrontendName, rec.BackendName, rec.ServerName)
	}
	if rec.HTTP.StatusCode != "200" {
		t.Errorf("Expected status '200', got '%s'", rec.HTTP.StatusCode)
	}
	req := rec.HTTP.Request
	if req == nil || req.Method != "GET" || req.Path != "/path/to/image" || req.Protocol != "HTTP/1.1" {
		t.Errorf("Unexpected request line: %+v", req)
	}
}
