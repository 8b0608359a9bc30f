package protocol

// Header is one case-preserving response header pair, mirroring the
// teacher's engine.Header shape (server/engine/pool.go, pre-adaptation)
// but living in the protocol package since it is a response concept, not
// a socket-plumbing one.
type Header struct {
	Key, Val string
}

// ResponseHeaders is spec.md §4.3's case-preserving header list: "headers
// emitted with original-cased keys if provided via the case-preserving
// setter, otherwise lowercased; duplicate keys overwrite (last-write-wins)".
type ResponseHeaders []Header

// Set stores val under key, overwriting any existing header that matches
// case-insensitively while preserving the case key was given in — the
// case-preserving setter spec.md calls for.
func (h *ResponseHeaders) Set(key, val string) {
	lk := lowerASCII(key)
	for i := range *h {
		if lowerASCII((*h)[i].Key) == lk {
			(*h)[i] = Header{Key: key, Val: val}
			return
		}
	}
	*h = append(*h, Header{Key: key, Val: val})
}

// Get returns the first value stored for key, case-insensitively.
func (h ResponseHeaders) Get(key string) (string, bool) {
	lk := lowerASCII(key)
	for _, hdr := range h {
		if lowerASCII(hdr.Key) == lk {
			return hdr.Val, true
		}
	}
	return "", false
}

// Del removes any header matching key case-insensitively.
func (h *ResponseHeaders) Del(key string) {
	lk := lowerASCII(key)
	out := (*h)[:0]
	for _, hdr := range *h {
		if lowerASCII(hdr.Key) != lk {
			out = append(out, hdr)
		}
	}
	*h = out
}

// BodyKind is the ResponseEnvelope body representation spec.md §3 names:
// an owned buffer, a chunked stream, or headers-only (HEAD).
type BodyKind uint8

const (
	BodyBytes BodyKind = iota
	BodyChunked
	BodyHead
)

// ResponseEnvelope is the value a dispatcher hands back to CommTask's
// onResponse, or that CommTask builds itself for protocol-error and CORS
// preflight replies.
type ResponseEnvelope struct {
	Status  int
	Headers ResponseHeaders
	Kind    BodyKind
	// Body holds the full body for BodyBytes, or the body that would have
	// been sent for BodyHead (used only to compute Content-Length).
	Body []byte

	// Close, if true, forces the connection closed after this response
	// regardless of what keep-alive negotiation would otherwise decide
	// (spec.md §4.7's "Dispatcher reports internal failure -> 500, close
	// disposition per keep-alive" still routes through the normal
	// disposition unless a handler sets this explicitly).
	Close bool
}

// Disposition is what CommTask has already decided about this response's
// framing before handing it to the assembler: which HTTP version to write
// on the status line and whether the connection stays open.
type Disposition struct {
	Version   Version
	KeepAlive bool
}

// ServerTag is the Server: header value spec.md §4.3 requires ("Server:
// <product-tag>"). A package variable rather than a constant so an
// embedding application can override it once at startup.
var ServerTag = "goserver/1"

// Assembler builds wire bytes from a ResponseEnvelope. It is a pure
// function in the sense spec.md's component design calls for: given the
// same envelope, disposition, and method, it always produces the same
// bytes.
type Assembler struct{}

// Build serializes a non-chunked ResponseEnvelope (BodyBytes or BodyHead)
// into dst (from engine.GetOutBuf), returning the grown slice. Mandatory
// headers (Server, Connection, Content-Length) are injected here;
// CORS/Content-Encoding headers must already be set on env.Headers by the
// cors/encoding helpers before Build is called.
func (Assembler) Build(dst []byte, env *ResponseEnvelope, disp Disposition, isHead bool) []byte {
	dst = appendStatusLine(dst, disp.Version, env.Status)

	for _, h := range env.Headers {
		dst = appendHeader(dst, h.Key, h.Val)
	}

	dst = appendHeader(dst, "Server", ServerTag)
	if disp.KeepAlive {
		dst = appendHeader(dst, "Connection", "Keep-Alive")
	} else {
		dst = appendHeader(dst, "Connection", "close")
	}
	if env.Kind != BodyChunked {
		dst = appendHeader(dst, "Content-Length", itoa(len(env.Body)))
	}

	dst = append(dst, crlf...)

	if !isHead && env.Kind != BodyHead && len(env.Body) > 0 {
		dst = append(dst, env.Body...)
	}
	return dst
}

// BuildChunkStart serializes the status line + headers for a chunked
// response, omitting Content-Length and adding Transfer-Encoding: chunked
// (spec.md §4.3). It writes no body bytes; sendChunk/finishChunked append
// framed chunks separately as CommTask receives them.
func (Assembler) BuildChunkStart(dst []byte, env *ResponseEnvelope, disp Disposition) []byte {
	dst = appendStatusLine(dst, disp.Version, env.Status)

	for _, h := range env.Headers {
		if lowerASCII(h.Key) == "content-length" {
			continue
		}
		dst = appendHeader(dst, h.Key, h.Val)
	}

	dst = appendHeader(dst, "Server", ServerTag)
	if disp.KeepAlive {
		dst = appendHeader(dst, "Connection", "Keep-Alive")
	} else {
		dst = appendHeader(dst, "Connection", "close")
	}
	dst = appendHeader(dst, "Transfer-Encoding", "chunked")
	dst = append(dst, crlf...)
	return dst
}

// AppendChunk frames one chunk as "<hex-length>\r\n<bytes>\r\n" (spec.md
// §4.3). An empty chunk is a no-op — the zero-length chunk is only ever the
// terminator AppendChunkTerminator writes.
func (Assembler) AppendChunk(dst []byte, chunk []byte) []byte {
	if len(chunk) == 0 {
		return dst
	}
	dst = appendHex(dst, len(chunk))
	dst = append(dst, crlf...)
	dst = append(dst, chunk...)
	dst = append(dst, crlf...)
	return dst
}

// AppendChunkTerminator writes the "0\r\n\r\n" terminator that ends a
// chunked stream.
func (Assembler) AppendChunkTerminator(dst []byte) []byte {
	dst = append(dst, '0')
	dst = append(dst, crlf...)
	dst = append(dst, crlf...)
	return dst
}

func appendStatusLine(dst []byte, version Version, status int) []byte {
	dst = append(dst, version.String()...)
	dst = append(dst, ' ')
	dst = append(dst, itoa(status)...)
	dst = append(dst, ' ')
	dst = append(dst, ReasonPhrase(status)...)
	dst = append(dst, crlf...)
	return dst
}

func appendHeader(dst []byte, key, val string) []byte {
	dst = append(dst, key...)
	dst = append(dst, colonSpace...)
	dst = append(dst, val...)
	dst = append(dst, crlf...)
	return dst
}

const hexDigits = "0123456789abcdef"

func appendHex(dst []byte, n int) []byte {
	if n == 0 {
		return append(dst, '0')
	}
	var tmp [16]byte
	i := len(tmp)
	for n > 0 {
		i--
		tmp[i] = hexDigits[n&0xf]
		n >>= 4
	}
	return append(dst, tmp[i:]...)
}
