package haproxy

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
)

// requestLineRe extracts method, path and optional protocol from the quoted
// request. The path character set is deliberately open (real-world paths are
// not RFC-compliant), including accented characters via \p{L}\p{N} since \w
// only covers ASCII here. The protocol group is absent when the request was
// truncated before it.
var requestLineRe = regexp.MustCompile(
	"^(\\w+)\\s+((?:/[\\w\\p{L}\\p{N}`´\\\\<>/:,;.#$!?=&@%_+'*^~|()\\[\\]{}-]*)+)(?:\\s+(\\w+/\\d\\.\\d))?")

// Parser implements the LogParser interface for HAProxy access logs,
// covering both the HTTP and the TCP log format. Parsing a line is a pure
// computation; a single Parser is safe for concurrent use.
type Parser struct {
	logger *pterm.Logger
}

// NewParser creates a new HAProxy parser instance
func NewParser(logger *pterm.Logger) *Parser {
	return &Parser{
		logger: logger,
	}
}

// Name returns the parser identifier
func (p *Parser) Name() string {
	return "haproxy"
}

// CanParse is a cheap structural probe: a client address followed by a
// bracketed timestamp, with or without a syslog prefix. The full grammar in
// Parse has the final say.
func (p *Parser) CanParse(line string) bool {
	if probeBody(line) {
		return true
	}
	if j := strings.LastIndex(line, "]:"); j >= 0 {
		return probeBody(strings.TrimLeft(line[j+2:], " \t"))
	}
	return false
}

func probeBody(s string) bool {
	m := clientAddrRe.FindStringSubmatch(s)
	if m == nil {
		return false
	}
	return acceptDateRe.MatchString(s[len(m[0]):])
}

// Parse parses one line, already stripped of its trailing newline, into a
// LogRecord. A line the outer grammar does not recognize yields a record
// with Valid == false and a nil error; that is the normal outcome for
// unrelated or malformed lines in a mixed log stream. A non-nil error is
// only returned when the captured accept timestamp does not survive calendar
// validation, which indicates the grammar and the date layout have drifted
// apart.
func (p *Parser) Parse(line string) (*LogRecord, error) {
	rec := &LogRecord{RawLine: line}

	caps, ok := matchLine(line)
	if !ok {
		return rec, nil
	}
	rec.Valid = true

	rec.ClientIP = caps.clientIP
	rec.ClientPort = atoi(caps.clientPort)

	rec.RawAcceptTime = caps.acceptDate
	accept, err := ParseAcceptDate(caps.acceptDate)
	if err != nil {
		return nil, err
	}
	rec.AcceptTime = accept

	rec.FrontendName = caps.frontend
	rec.BackendName = caps.backend
	rec.ServerName = caps.server

	rec.ConnectionsActive = atoi(caps.actconn)
	rec.ConnectionsFrontend = atoi(caps.feconn)
	rec.ConnectionsBackend = atoi(caps.beconn)
	rec.ConnectionsServer = atoi(caps.srvConn)
	rec.Retries = caps.retries

	rec.QueueServer = atoi(caps.srvQueue)
	rec.QueueBackend = atoi(caps.backendQueue)

	if caps.http {
		rec.Kind = KindHTTP
		rec.HTTP = p.buildHTTP(caps)
	} else {
		rec.Kind = KindTCP
		rec.TCP = buildTCP(caps)
	}
	return rec, nil
}

func (p *Parser) buildHTTP(caps *lineCaptures) *HTTPDetail {
	d := &HTTPDetail{
		TimeWaitRequest:   atoi(caps.tq),
		TimeWaitQueue:     atoi(caps.tw),
		TimeConnectServer: atoi(caps.tc),
		TimeWaitResponse:  atoi(caps.tr),
		TotalTime:         atoi(caps.total),

		StatusCode: caps.status,
		BytesRead:  caps.bytes,

		CapturedRequestHeaders:  caps.reqHeaders,
		CapturedResponseHeaders: caps.respHeaders,
	}
	if caps.request != nil {
		d.RawRequest = caps.request
		d.Request = p.parseRequestLine(*caps.request)
	}
	return d
}

func buildTCP(caps *lineCaptures) *TCPDetail {
	return &TCPDetail{
		TimeWaitQueue:     atoi(caps.tw),
		TimeConnectServer: atoi(caps.tc),
		TotalTime:         atoi(caps.total),

		BytesRead: caps.bytes,
	}
}

// parseRequestLine parses the quoted request text. When it does not conform
// to method/path/[protocol] the record stays valid, the three fields carry
// the RequestInvalid sentinel, and a notice is logged, except for the
// balancer's own <BADREQ> placeholder which is expected.
func (p *Parser) parseRequestLine(raw string) *RequestLine {
	m := requestLineRe.FindStringSubmatch(raw)
	if m == nil {
		if raw != BadRequestPlaceholder && p.logger != nil {
			p.logger.Warn("Could not parse HTTP request", p.logger.Args("request", raw))
		}
		return &RequestLine{
			Method:   RequestInvalid,
			Path:     RequestInvalid,
			Protocol: RequestInvalid,
		}
	}
	return &RequestLine{
		Parseable: true,
		Method:    m[1],
		Path:      m[2],
		Protocol:  m[3],
	}
}

// atoi converts a capture the grammar already guarantees to be an optionally
// signed digit run.
func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
