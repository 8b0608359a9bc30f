package protocol

import (
	"bytes"
	"compress/flate"
	"io"
	"testing"
)

func TestIsPreflightRequiresOriginAndRequestMethod(t *testing.T) {
	base := &ParsedRequest{Method: MethodOPTIONS, Headers: Headers{}}
	if IsPreflight(base) {
		t.Fatal("bare OPTIONS with no CORS headers must not be a preflight")
	}

	withOrigin := &ParsedRequest{Method: MethodOPTIONS, Headers: Headers{}}
	withOrigin.Headers.Set("Origin", "https://example.com")
	if IsPreflight(withOrigin) {
		t.Fatal("Origin alone must not be enough to qualify as a preflight")
	}

	full := &ParsedRequest{Method: MethodOPTIONS, Headers: Headers{}}
	full.Headers.Set("Origin", "https://example.com")
	full.Headers.Set("Access-Control-Request-Method", "POST")
	if !IsPreflight(full) {
		t.Fatal("OPTIONS + Origin + Access-Control-Request-Method must qualify as a preflight")
	}
}

func TestBuildPreflightResponseEchoesRequestedHeaders(t *testing.T) {
	req := &ParsedRequest{Method: MethodOPTIONS, Headers: Headers{}}
	req.Headers.Set("Origin", "https://example.com")
	req.Headers.Set("Access-Control-Request-Method", "POST")
	req.Headers.Set("Access-Control-Request-Headers", "X-Custom-Header")

	env := BuildPreflightResponse(req, DefaultCORSPolicy())
	if env.Status != 200 {
		t.Fatalf("expected 200, got %d", env.Status)
	}
	if v, _ := env.Headers.Get("Access-Control-Allow-Origin"); v != "https://example.com" {
		t.Fatalf("expected origin echoed back, got %q", v)
	}
	if v, _ := env.Headers.Get("Access-Control-Allow-Headers"); v != "X-Custom-Header" {
		t.Fatalf("expected requested headers echoed back, got %q", v)
	}
}

func TestApplyCrossOriginHeadersSkipsDisallowedOrigin(t *testing.T) {
	policy := CORSPolicy{AllowedOrigins: []string{"https://trusted.example"}}
	req := &ParsedRequest{Headers: Headers{}}
	req.Headers.Set("Origin", "https://untrusted.example")

	env := &ResponseEnvelope{Status: 200, Kind: BodyBytes}
	ApplyCrossOriginHeaders(env, req, policy)

	if _, ok := env.Headers.Get("Access-Control-Allow-Origin"); ok {
		t.Fatal("expected no Allow-Origin header for a disallowed origin")
	}
}

func TestMaybeCompressRespectsThresholdAndExistingEncoding(t *testing.T) {
	small := &ResponseEnvelope{Status: 200, Kind: BodyBytes, Body: []byte("short")}
	if err := MaybeCompress(small, true, 16<<10); err != nil {
		t.Fatalf("MaybeCompress: %v", err)
	}
	if len(small.Body) != len("short") {
		t.Fatal("expected a body under threshold to be left untouched")
	}

	big := &ResponseEnvelope{Status: 200, Kind: BodyBytes, Body: bytes.Repeat([]byte("x"), 1<<20)}
	if err := MaybeCompress(big, true, 16<<10); err != nil {
		t.Fatalf("MaybeCompress: %v", err)
	}
	if v, _ := big.Headers.Get("Content-Encoding"); v != "deflate" {
		t.Fatalf("expected Content-Encoding: deflate, got %q", v)
	}

	r := flate.NewReader(bytes.NewReader(big.Body))
	defer r.Close()
	decoded, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded) != 1<<20 {
		t.Fatalf("expected decoded length %d, got %d", 1<<20, len(decoded))
	}

	preset := &ResponseEnvelope{Status: 200, Kind: BodyBytes, Body: bytes.Repeat([]byte("x"), 1<<20)}
	preset.Headers.Set("Content-Encoding", "identity")
	if err := MaybeCompress(preset, true, 16<<10); err != nil {
		t.Fatalf("MaybeCompress: %v", err)
	}
	if len(preset.Body) != 1<<20 {
		t.Fatal("expected a handler-set Content-Encoding to suppress compression")
	}
}
