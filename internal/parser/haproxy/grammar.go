package haproxy

import (
	"regexp"
	"strings"
)

// The line grammar is a sequence of small anchored patterns applied
// left-to-right over the remaining input, instead of one monolithic
// expression. Each segment either consumes its prefix or fails the whole
// attempt; there is never a partial match. All patterns are compiled once at
// package init and are read-only afterwards, so matching is safe from any
// number of goroutines.
//
// Example line (HTTP format, with syslog prefix and one captured header
// group):
//
//	Dec  9 13:01:26 localhost haproxy[28029]: 127.0.0.1:39759
//	[09/Dec/2013:12:59:46.633] loadbalancer default/instance8
//	0/51536/1/48082/99627 200 83285 - - ---- 87/87/87/1/0 0/67
//	{77.24.148.74} "GET /path/to/image HTTP/1.1"
var (
	// ip:port, where ip covers both dotted-decimal and IPv6 colon notation
	clientAddrRe = regexp.MustCompile(`^([a-fA-F\d+\.:]+):(\d+)\s+`)

	// [09/Dec/2013:12:59:46.633]
	acceptDateRe = regexp.MustCompile(`^\[([^\]]+)\]\s+`)

	// frontend backend/server Tq/Tw/Tc/Tr/Ta status bytes
	httpShapeRe = regexp.MustCompile(
		`^(\S+)\s+(\S+)\s+(-?\d+)/(-?\d+)/(-?\d+)/(-?\d+)/(\+?\d+)\s+(-?\d+)\s+(\+?\d+)\s+`)

	// frontend backend/server Tw/Tc/Tt bytes
	tcpShapeRe = regexp.MustCompile(
		`^(\S+)\s+(\S+)\s+(-?\d+)/(-?\d+)/(\+?\d+)\s+(\+?\d+)\s+`)

	// actconn/feconn/beconn/srv_conn/retries srv_queue/backend_queue
	countersRe = regexp.MustCompile(`^(\d+)/(\d+)/(\d+)/(\d+)/(\+?\d+)\s+(\d+)/(\d+)`)

	// optional {req} / {req} {resp} header groups followed by the quoted
	// request; the closing quote is optional so lines truncated by
	// length-limited remote logging still match
	tailRe = regexp.MustCompile(`^\s+(?:\{(.*)\}\s+\{(.*)\}\s+|\{(.*)\}\s+|\s+)?"([^"]+)"?$`)
)

// lineCaptures is the raw capture set of a successful line match. All values
// are verbatim substrings of the input; nothing is converted yet.
type lineCaptures struct {
	clientIP   string
	clientPort string
	acceptDate string

	http     bool
	frontend string
	backend  string
	server   string

	// timers, per shape: tq/tr/status only for HTTP
	tq, tw, tc, tr string
	total          string
	status         string
	bytes          string

	actconn, feconn, beconn, srvConn, retries string
	srvQueue, backendQueue                    string

	reqHeaders  *string
	respHeaders *string
	request     *string
}

// matchLine attempts the full grammar against one line, trying syslog-prefix
// cut points right to left before the bare line, mirroring how a greedy
// optional prefix would resolve.
func matchLine(line string) (*lineCaptures, bool) {
	for cut := len(line); cut > 0; {
		j := strings.LastIndex(line[:cut], "]:")
		if j < 0 {
			break
		}
		rest := line[j+2:]
		body := strings.TrimLeft(rest, " \t")
		if len(body) < len(rest) { // "]:" must be followed by whitespace
			if caps, ok := matchBody(body); ok {
				return caps, true
			}
		}
		cut = j
	}
	return matchBody(line)
}

// matchBody matches everything from the client address to end of line.
func matchBody(s string) (*lineCaptures, bool) {
	caps := &lineCaptures{}

	m := clientAddrRe.FindStringSubmatch(s)
	if m == nil {
		return nil, false
	}
	caps.clientIP, caps.clientPort = m[1], m[2]
	s = s[len(m[0]):]

	m = acceptDateRe.FindStringSubmatch(s)
	if m == nil {
		return nil, false
	}
	caps.acceptDate = m[1]
	s = s[len(m[0]):]

	// The HTTP shape is the richer one; try it first. The shapes are
	// mutually exclusive by token count, so at most one can carry through
	// to a successful counters-and-tail match.
	if rest, ok := matchShape(caps, s, true); ok && matchOutcome(caps, rest) {
		return caps, true
	}
	// Discard anything the failed HTTP attempt captured.
	*caps = lineCaptures{clientIP: caps.clientIP, clientPort: caps.clientPort, acceptDate: caps.acceptDate}
	if rest, ok := matchShape(caps, s, false); ok && matchOutcome(caps, rest) {
		return caps, true
	}
	return nil, false
}

// matchShape consumes the routing + timers + outcome block of one of the two
// line formats and returns the remaining input.
func matchShape(caps *lineCaptures, s string, http bool) (string, bool) {
	re := tcpShapeRe
	if http {
		re = httpShapeRe
	}
	m := re.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	backend, server, ok := splitBackendServer(m[2])
	if !ok {
		return "", false
	}
	caps.http = http
	caps.frontend = m[1]
	caps.backend, caps.server = backend, server
	if http {
		caps.tq, caps.tw, caps.tc, caps.tr, caps.total = m[3], m[4], m[5], m[6], m[7]
		caps.status, caps.bytes = m[8], m[9]
	} else {
		caps.tw, caps.tc, caps.total = m[3], m[4], m[5]
		caps.bytes = m[6]
	}
	return s[len(m[0]):], true
}

// splitBackendServer splits "backend/server" at the last slash, so a backend
// name containing slashes keeps them.
func splitBackendServer(token string) (backend, server string, ok bool) {
	i := strings.LastIndex(token, "/")
	if i < 0 {
		return "", "", false
	}
	return token[:i], token[i+1:], true
}

// matchOutcome consumes the opaque termination/flags run ("- - ----" for
// HTTP, "--" for TCP), the connection counters, the queue pair, and the
// optional header-and-request tail. The flags run is not individually
// modeled: tokens are skipped until the counters pattern, queue pair and a
// fully parseable tail line up, taking the leftmost position where they do.
func matchOutcome(caps *lineCaptures, s string) bool {
	for {
		if m := countersRe.FindStringSubmatch(s); m != nil {
			if reqH, respH, req, ok := matchTail(s[len(m[0]):]); ok {
				caps.actconn, caps.feconn, caps.beconn = m[1], m[2], m[3]
				caps.srvConn, caps.retries = m[4], m[5]
				caps.srvQueue, caps.backendQueue = m[6], m[7]
				caps.reqHeaders, caps.respHeaders, caps.request = reqH, respH, req
				return true
			}
		}
		i := strings.IndexAny(s, " \t")
		if i < 0 {
			return false
		}
		s = strings.TrimLeft(s[i:], " \t")
		if s == "" {
			return false
		}
	}
}

// matchTail matches everything after the queue pair. A line truncated right
// after the queue pair, with or without trailing whitespace, is still a
// complete line. Otherwise the tail is an optional header section followed by
// the quoted request, whose closing quote may be missing.
func matchTail(s string) (reqHeaders, respHeaders, request *string, ok bool) {
	if strings.TrimSpace(s) == "" {
		return nil, nil, nil, true
	}
	idx := tailRe.FindStringSubmatchIndex(s)
	if idx == nil {
		return nil, nil, nil, false
	}
	// Submatch indexes distinguish an absent group from a present-but-empty
	// capture such as "{}".
	group := func(n int) *string {
		lo, hi := idx[2*n], idx[2*n+1]
		if lo < 0 {
			return nil
		}
		v := s[lo:hi]
		return &v
	}
	if single := group(3); single != nil {
		reqHeaders = single
	} else {
		reqHeaders, respHeaders = group(1), group(2)
	}
	return reqHeaders, respHeaders, group(4), true
}
