// RequestParser: a pure function converting a prefix of a connection's
// ReadBuffer into a parsed request line + header set (spec.md §4.1 step 1),
// or ErrIncomplete if the header block hasn't fully arrived yet, or a
// *ProtocolError for anything malformed. It never touches the body — body
// framing is CommTask's job, since deciding what an absent or malformed
// Content-Length means is protocol policy, not parsing.
//
// Adapted from the teacher's server/protocol/parser.go parseRaw, which
// this keeps the zero-copy scanning style of (raw []byte, cursor int) with
// bytes.IndexByte lookups; extended with the full header map spec.md's
// data model requires and with golang.org/x/net/http/httpguts field
// validation (see SPEC_FULL.md's domain-stack section).
package protocol

import (
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// HTTPParser is the stateless parser type, mirroring the teacher's empty
// struct receiver — parsing carries no state between calls.
type HTTPParser struct{}

// ParseHead scans raw for one complete request line + header block ending
// at the blank-line CRLFCRLF sentinel. On success it returns the parsed
// request and the offset of the first body byte (== len(headers block)).
// On an incomplete header block it returns ErrIncomplete. Malformed input
// returns a *ProtocolError with the status spec.md §4.7 assigns.
func (HTTPParser) ParseHead(raw []byte) (*ParsedRequest, int, error) {
	cursor := 0

	sep := indexByteFrom(raw, cursor, ' ')
	if sep == -1 {
		return nil, 0, ErrIncomplete
	}
	methodBytes := raw[cursor:sep]
	cursor = sep + 1

	sep = indexByteFrom(raw, cursor, ' ')
	if sep == -1 {
		return nil, 0, ErrIncomplete
	}
	urlBytes := raw[cursor:sep]
	cursor = sep + 1

	sep = indexByteFrom(raw, cursor, '\n')
	if sep == -1 {
		return nil, 0, ErrIncomplete
	}
	if sep == cursor || raw[sep-1] != '\r' {
		return nil, 0, NewProtocolError(400, ErrInvalid)
	}
	protoBytes := raw[cursor : sep-1]
	cursor = sep + 1

	version, ok := parseVersion(protoBytes)
	if !ok {
		return nil, 0, NewProtocolError(505, ErrUnsupportedVersion)
	}

	if len(urlBytes) == 0 || len(urlBytes) > maxRequestURILength {
		return nil, 0, NewProtocolError(414, ErrInvalid)
	}

	req := &ParsedRequest{
		Method:  parseMethod(methodBytes),
		URL:     string(urlBytes),
		Version: version,
		Headers: make(Headers, 16),
	}

	for {
		if cursor+1 >= len(raw) {
			return nil, 0, ErrIncomplete
		}
		if raw[cursor] == '\r' && raw[cursor+1] == '\n' {
			cursor += 2
			break
		}

		lf := indexByteFrom(raw, cursor, '\n')
		if lf == -1 {
			return nil, 0, ErrIncomplete
		}
		if lf == cursor || raw[lf-1] != '\r' {
			return nil, 0, NewProtocolError(400, ErrInvalid)
		}
		lineEnd := lf - 1

		colon := indexByteFrom(raw, cursor, ':')
		if colon == -1 || colon > lineEnd {
			return nil, 0, NewProtocolError(400, ErrInvalid)
		}

		key := raw[cursor:colon]
		valStart := colon + 1
		for valStart < lineEnd && raw[valStart] == ' ' {
			valStart++
		}
		valEnd := lineEnd
		for valEnd > valStart && raw[valEnd-1] == ' ' {
			valEnd--
		}
		val := raw[valStart:valEnd]

		if !httpguts.ValidHeaderFieldName(string(key)) || !httpguts.ValidHeaderFieldValue(string(val)) {
			return nil, 0, NewProtocolError(400, ErrInvalid)
		}

		req.Headers.Set(string(key), string(val))
		cursor = lf + 1
	}

	return req, cursor, nil
}

const maxRequestURILength = 8 << 10 // conservative default bound before MaximalHeaderSize even applies

func parseVersion(b []byte) (Version, bool) {
	switch string(b) {
	case "HTTP/1.1":
		return HTTP11, true
	case "HTTP/1.0":
		return HTTP10, true
	default:
		return 0, false
	}
}

// ParseContentLength validates the raw header value the way spec.md §4.1
// step 1 and §4.7 require: absent is not an error (callers decide what
// that means), but present-and-malformed or present-and-negative
// must fail before any body framing decision is made.
func ParseContentLength(raw string) (n int64, present bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false, nil
	}
	n, convErr := strconv.ParseInt(raw, 10, 64)
	if convErr != nil || n < 0 {
		return 0, true, ErrMalformedLength
	}
	return n, true, nil
}

// AcceptsDeflate scans an Accept-Encoding header value for the "deflate"
// token, per spec.md §3's `acceptDeflate` flag and §4.6.
func AcceptsDeflate(acceptEncoding string) bool {
	return httpguts.HeaderValuesContainsToken([]string{acceptEncoding}, "deflate")
}

// ConnectionHasToken reports whether a Connection header value contains
// token (case-insensitively), used for both keep-alive/close negotiation
// and detecting an Upgrade request this task does not support.
func ConnectionHasToken(connectionHeader, token string) bool {
	return httpguts.HeaderValuesContainsToken([]string{connectionHeader}, token)
}
