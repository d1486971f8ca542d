// Package sip extracts call identity facts from raw SIP messages.
package sip

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/abiolaogu/VoxGuard-sub001/internal/domain"
)

const sipVersion = "SIP/2.0"

// Compact header forms (RFC 3261 section 7.3.3).
var compactHeaders = map[string]string{
	"i": "call-id",
	"f": "from",
	"t": "to",
	"v": "via",
}

var knownMethods = map[string]struct{}{
	"INVITE": {}, "ACK": {}, "BYE": {}, "CANCEL": {}, "OPTIONS": {}, "REGISTER": {},
	"PRACK": {}, "UPDATE": {}, "INFO": {}, "SUBSCRIBE": {}, "NOTIFY": {}, "REFER": {}, "MESSAGE": {},
}

// Recognize reports whether data starts with a SIP request or status line.
// It only inspects the first line.
func Recognize(data []byte) bool {
	_, _, _, ok := startLine(firstLine(data))
	return ok
}

// Parse converts a raw message into a CallSignal.
// Non-SIP input returns domain.ErrNotRecognized; a SIP message without a
// Call-ID returns a *domain.ProtocolParseError.
func Parse(data []byte) (*domain.CallSignal, error) {
	line := firstLine(data)
	method, requestURI, status, ok := startLine(line)
	if !ok {
		return nil, domain.ErrNotRecognized
	}

	headers := parseHeaders(data[len(line):])

	callID := headers["call-id"]
	if callID == "" {
		return nil, &domain.ProtocolParseError{Reason: "missing Call-ID header"}
	}

	sig := &domain.CallSignal{
		CallID: callID,
		Method: method,
	}

	if method == domain.MethodResponse {
		sig.StatusCode = status
		if cseq := headers["cseq"]; cseq != "" {
			fields := strings.Fields(cseq)
			if len(fields) != 2 {
				return nil, &domain.ProtocolParseError{Reason: "malformed CSeq header"}
			}
			sig.CSeqMethod = strings.ToUpper(fields[1])
		}
	}

	sig.CallerID = ExtractNumber(headers["from"])
	sig.AssertedIdentity = ExtractNumber(headers["p-asserted-identity"])
	sig.BNumber = ExtractNumber(headers["to"])
	if sig.BNumber == "" && requestURI != "" {
		sig.BNumber = ExtractNumber(requestURI)
	}
	sig.SourceIP = viaSource(headers["via"])
	sig.HasIdentityMismatch = IdentityMismatch(sig.CallerID, sig.AssertedIdentity)

	return sig, nil
}

// CallID returns the Call-ID header value without building the full header
// map, or "" when data is not SIP or has none. Workers use it to route every
// message of one call to the same queue.
func CallID(data []byte) string {
	if !Recognize(data) {
		return ""
	}
	rest := data[len(firstLine(data)):]
	for len(rest) > 0 {
		line := rest
		if i := bytes.IndexByte(rest, '\n'); i >= 0 {
			line, rest = rest[:i], rest[i+1:]
		} else {
			rest = nil
		}
		line = bytes.TrimRight(line, "\r")
		if len(line) == 0 {
			return ""
		}
		colon := bytes.IndexByte(line, ':')
		if colon <= 0 {
			continue
		}
		name := strings.ToLower(string(bytes.TrimSpace(line[:colon])))
		if name == "call-id" || name == "i" {
			return string(bytes.TrimSpace(line[colon+1:]))
		}
	}
	return ""
}

// IdentityMismatch is true iff both values are present and name different
// numbers. Formatting differences ("+1-202-555-1234") do not count.
func IdentityMismatch(callerID, asserted string) bool {
	return callerID != "" && asserted != "" && !domain.SameNumber(callerID, asserted)
}

// ExtractNumber pulls the user part out of a header value or URI:
// display name and angle brackets are stripped, then the sip:/sips:/tel:
// scheme, then everything from '@', ';' or '?'. Empty means absent.
func ExtractNumber(value string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return ""
	}

	if lt := strings.IndexByte(v, '<'); lt >= 0 {
		v = v[lt+1:]
		if gt := strings.IndexByte(v, '>'); gt >= 0 {
			v = v[:gt]
		}
	} else if semi := strings.IndexByte(v, ';'); semi >= 0 {
		// Header parameters (";tag=") follow a bare URI.
		v = v[:semi]
	}
	v = strings.TrimSpace(v)

	lower := strings.ToLower(v)
	for _, scheme := range []string{"sips:", "sip:", "tel:"} {
		if strings.HasPrefix(lower, scheme) {
			v = v[len(scheme):]
			break
		}
	}

	if i := strings.IndexAny(v, "@;?"); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}

func firstLine(data []byte) []byte {
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return data[:i+1]
	}
	return data
}

// startLine matches "METHOD uri SIP/2.0" or "SIP/2.0 code reason".
func startLine(line []byte) (method, uri string, status int, ok bool) {
	s := strings.TrimRight(string(line), "\r\n")
	if strings.HasPrefix(s, sipVersion+" ") {
		parts := strings.SplitN(s, " ", 3)
		if len(parts) < 2 || len(parts[1]) != 3 {
			return "", "", 0, false
		}
		code, err := strconv.Atoi(parts[1])
		if err != nil || code < 100 || code > 699 {
			return "", "", 0, false
		}
		return domain.MethodResponse, "", code, true
	}

	parts := strings.Split(s, " ")
	if len(parts) != 3 || parts[2] != sipVersion {
		return "", "", 0, false
	}
	if _, known := knownMethods[parts[0]]; !known {
		return "", "", 0, false
	}
	lowerURI := strings.ToLower(parts[1])
	if !strings.HasPrefix(lowerURI, "sip:") && !strings.HasPrefix(lowerURI, "sips:") && !strings.HasPrefix(lowerURI, "tel:") {
		return "", "", 0, false
	}
	return parts[0], parts[1], 0, true
}

// parseHeaders reads header lines up to the first empty line. Names are
// lower-cased; the first occurrence wins; folded continuation lines are joined.
func parseHeaders(data []byte) map[string]string {
	headers := make(map[string]string, 12)
	var last string

	for _, raw := range strings.Split(string(data), "\n") {
		line := strings.TrimRight(raw, "\r")
		if line == "" {
			break
		}
		if (line[0] == ' ' || line[0] == '\t') && last != "" {
			headers[last] += " " + strings.TrimSpace(line)
			continue
		}

		colon := strings.IndexByte(line, ':')
		if colon <= 0 {
			last = ""
			continue
		}
		name := strings.ToLower(strings.TrimSpace(line[:colon]))
		if full, ok := compactHeaders[name]; ok {
			name = full
		}
		if _, seen := headers[name]; seen {
			last = ""
			continue
		}
		headers[name] = strings.TrimSpace(line[colon+1:])
		last = name
	}
	return headers
}

// viaSource returns the received= parameter of the top Via, else its host.
func viaSource(via string) string {
	if via == "" {
		return ""
	}
	if comma := strings.IndexByte(via, ','); comma >= 0 {
		via = via[:comma]
	}

	params := strings.Split(via, ";")
	for _, p := range params[1:] {
		k, v, found := strings.Cut(strings.TrimSpace(p), "=")
		if found && strings.EqualFold(k, "received") {
			return strings.TrimSpace(v)
		}
	}

	// "SIP/2.0/UDP host:port"
	fields := strings.Fields(params[0])
	if len(fields) < 2 {
		return ""
	}
	host := fields[1]
	if strings.HasPrefix(host, "[") {
		if end := strings.IndexByte(host, ']'); end > 0 {
			return host[1:end]
		}
	}
	if colon := strings.LastIndexByte(host, ':'); colon >= 0 && strings.Count(host, ":") == 1 {
		host = host[:colon]
	}
	return host
}
