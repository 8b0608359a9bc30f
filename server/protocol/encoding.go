// Content-Encoding negotiation (spec.md §4.6). No repository in the
// retrieved example pack imports a third-party compression library, so
// this is one of the few places SPEC_FULL.md's ambient-stack rules permit
// staying on the standard library (compress/flate) — see DESIGN.md.
package protocol

import (
	"bytes"
	"compress/flate"
)

// DefaultDeflateThreshold is the 16 KiB body-size cutoff spec.md §4.6
// gives as an example.
const DefaultDeflateThreshold = 16 << 10

// MaybeCompress deflates env.Body in place when acceptDeflate is set, the
// body exceeds threshold, and the handler hasn't already set
// Content-Encoding — mirroring spec.md §4.6's three conditions exactly.
// It is a no-op for chunked or head responses: chunked bodies stream past
// this point one sendChunk call at a time, and head responses carry no
// body bytes to compress.
func MaybeCompress(env *ResponseEnvelope, acceptDeflate bool, threshold int) error {
	if !acceptDeflate || env.Kind != BodyBytes {
		return nil
	}
	if _, alreadySet := env.Headers.Get("Content-Encoding"); alreadySet {
		return nil
	}
	if len(env.Body) <= threshold {
		return nil
	}

	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return err
	}
	if _, err := w.Write(env.Body); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	env.Body = buf.Bytes()
	env.Headers.Set("Content-Encoding", "deflate")
	return nil
}
