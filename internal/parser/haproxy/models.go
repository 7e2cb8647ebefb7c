package haproxy

import (
	"strings"
	"time"
)

// LineKind tells which of the two balancer log formats a line was written in.
type LineKind int

const (
	KindHTTP LineKind = iota
	KindTCP
)

func (k LineKind) String() string {
	if k == KindTCP {
		return "tcp"
	}
	return "http"
}

// RequestInvalid is the sentinel stored in all three request fields when the
// quoted request text could not be parsed into method/path/protocol.
const RequestInvalid = "invalid"

// BadRequestPlaceholder is what the balancer itself logs when it could not
// parse the client's request. Seeing it is expected, not anomalous.
const BadRequestPlaceholder = "<BADREQ>"

// RequestLine is the outcome of parsing the quoted HTTP request.
// Callers should branch on Parseable rather than compare against the
// RequestInvalid sentinel.
type RequestLine struct {
	Parseable bool
	Method    string
	Path      string
	// Protocol is empty when the request was truncated before the protocol
	// token (e.g. "GET /foo").
	Protocol string
}

// HTTPDetail holds the fields only present on HTTP-format lines.
// All timers are milliseconds; Tq/Tw/Tc/Tr are negative when the stage was
// never reached.
type HTTPDetail struct {
	TimeWaitRequest   int // Tq
	TimeWaitQueue     int // Tw
	TimeConnectServer int // Tc
	TimeWaitResponse  int // Tr
	TotalTime         int // Ta, never negative

	// StatusCode and BytesRead keep their original text so that an explicit
	// "+" prefix (and a negative status for aborted requests) survives.
	StatusCode string
	BytesRead  string

	// Captured header blocks are raw pipe-delimited strings, never parsed
	// further here. nil means the group was absent from the line; an empty
	// string means the balancer captured nothing ("{}").
	CapturedRequestHeaders  *string
	CapturedResponseHeaders *string

	// RawRequest is nil when the line was truncated before the quoted
	// request. Request is set whenever RawRequest is.
	RawRequest *string
	Request    *RequestLine
}

// TCPDetail holds the fields only present on TCP-format lines.
type TCPDetail struct {
	TimeWaitQueue     int // Tw
	TimeConnectServer int // Tc
	TotalTime         int // Tt, never negative

	BytesRead string
}

// LogRecord is the parsed form of a single balancer log line. It is built
// once and never mutated afterwards.
//
// When Valid is false the outer grammar did not match and only RawLine is
// meaningful. When Valid is true exactly one of HTTP/TCP is non-nil,
// according to Kind.
type LogRecord struct {
	Kind    LineKind
	Valid   bool
	RawLine string

	SourceName string // set by the ingestion layer, not by the parser

	ClientIP   string
	ClientPort int

	RawAcceptTime string
	AcceptTime    time.Time

	FrontendName string
	BackendName  string
	ServerName   string

	ConnectionsActive   int // actconn
	ConnectionsFrontend int // feconn
	ConnectionsBackend  int // beconn
	ConnectionsServer   int // srv_conn
	// Retries keeps its original text; a "+" prefix is the balancer's
	// redispatch marker.
	Retries string

	QueueServer  int
	QueueBackend int

	HTTP *HTTPDetail
	TCP  *TCPDetail
}

func (r *LogRecord) GetTimestamp() time.Time {
	return r.AcceptTime
}

func (r *LogRecord) GetSourceName() string {
	return r.SourceName
}

// ResolvedIP returns the first pipe-delimited token of the captured request
// headers when one is present and non-empty, and the client IP otherwise.
// This models a reverse-proxy chain where the captured header carries the
// original client address.
func (r *LogRecord) ResolvedIP() string {
	if r.HTTP != nil && r.HTTP.CapturedRequestHeaders != nil {
		first, _, _ := strings.Cut(*r.HTTP.CapturedRequestHeaders, "|")
		if first != "" {
			return first
		}
	}
	return r.ClientIP
}

// IsHTTPS reports whether the request path contains the literal ":443".
// This is a legacy substring heuristic, not a URL parse: a path such as
// "/443:other" never matches but "/domain:443/x" does, and so would any
// path that merely mentions the port.
func (r *LogRecord) IsHTTPS() bool {
	if r.HTTP == nil || r.HTTP.Request == nil {
		return false
	}
	return strings.Contains(r.HTTP.Request.Path, ":443")
}

// WithinTimeFrame reports whether the accept time falls inside the inclusive
// [start, end] window. A zero bound leaves that side unconstrained.
func (r *LogRecord) WithinTimeFrame(start, end time.Time) bool {
	if !start.IsZero() && start.After(r.AcceptTime) {
		return false
	}
	if !end.IsZero() && end.Before(r.AcceptTime) {
		return false
	}
	return true
}
