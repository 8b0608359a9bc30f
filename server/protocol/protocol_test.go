package protocol

import (
	"errors"
	"fmt"
	"testing"

	"github.com/s00inx/goserver/server/engine"
)

func BenchmarkAssemblerBuild(b *testing.B) {
	asm := Assembler{}
	env := &ResponseEnvelope{Status: 200, Kind: BodyBytes, Body: []byte(`{"status":"ok","message":"hello world"}`)}
	disp := Disposition{Version: HTTP11, KeepAlive: true}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = asm.Build(engine.GetOutBuf(), env, disp, false)
	}
}

func BenchmarkParseHead(b *testing.B) {
	p := HTTPParser{}
	raw := []byte("POST /very/long/path/for/testing/purposes HTTP/1.1\r\n" +
		"Host: localhost:8080\r\n" +
		"User-Agent: goserver-benchmark\r\n" +
		"Content-Length: 18\r\n" +
		"Content-Type: application/json\r\n" +
		"\r\n" +
		"{\"key\":\"value_123\"}")

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := p.ParseHead(raw); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkParseHeadHeavy(b *testing.B) {
	headers := ""
	for i := 0; i < 20; i++ {
		headers += fmt.Sprintf("X-Header-%d: value-%d-extra-long-data-for-stress-test\r\n", i, i)
	}
	raw := []byte(fmt.Sprintf("POST /api/v1/resource/update/large HTTP/1.1\r\n"+
		"Host: localhost\r\n"+
		"Content-Length: 1024\r\n"+
		"Content-Type: application/octet-stream\r\n"+
		"%s\r\n", headers))

	p := HTTPParser{}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := p.ParseHead(raw); err != nil {
			b.Fatal(err)
		}
	}
}

func TestParseHeadCases(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		expectErr   error
		checkReq  func(t *testing.T, req *ParsedRequest)
	}{
		{
			name: "valid get request",
			raw:  "GET /index.html HTTP/1.1\r\nHost: localhost\r\nUser-Agent: test\r\n\r\n",
			checkReq: func(t *testing.T, req *ParsedRequest) {
				if req.Method != MethodGET {
					t.Errorf("wrong method: %v", req.Method)
				}
				if req.URL != "/index.html" {
					t.Errorf("wrong URL: %q", req.URL)
				}
				if req.Headers.Get("host") != "localhost" {
					t.Errorf("wrong Host header: %q", req.Headers.Get("host"))
				}
			},
		},
		{
			name: "header lookup is case-insensitive",
			raw:  "GET / HTTP/1.1\r\nX-Custom: VaLuE\r\n\r\n",
			checkReq: func(t *testing.T, req *ParsedRequest) {
				if req.Headers.Get("X-CUSTOM") != "VaLuE" {
					t.Errorf("expected case-insensitive header lookup to succeed, got %q", req.Headers.Get("X-CUSTOM"))
				}
			},
		},
		{
			name:      "incomplete header block",
			raw:       "GET /partial HTTP/1.1\r\nHost: local",
			expectErr: ErrIncomplete,
		},
		{
			name:      "invalid request line missing CRLF",
			raw:       "GET / HTTP/1.1\nHost: x\r\n\r\n",
			expectErr: ErrInvalid,
		},
		{
			name:      "unsupported version",
			raw:       "GET / HTTP/2.0\r\n\r\n",
			expectErr: ErrUnsupportedVersion,
		},
		{
			name:      "malformed header missing colon",
			raw:       "GET / HTTP/1.1\r\nNoColonHeader\r\n\r\n",
			expectErr: ErrInvalid,
		},
		{
			name: "pipelined bytes beyond the first request are left unconsumed",
			raw:  "GET /1 HTTP/1.1\r\n\r\nGET /2 HTTP/1.1\r\n\r\n",
			checkReq: func(t *testing.T, req *ParsedRequest) {
				if req.URL != "/1" {
					t.Errorf("expected only the first pipelined request to be parsed, got URL %q", req.URL)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := HTTPParser{}
			req, headerLen, err := p.ParseHead([]byte(tt.raw))

			if tt.expectErr != nil {
				if !errors.Is(err, tt.expectErr) {
					t.Fatalf("expected error %v, got %v", tt.expectErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if headerLen <= 0 || headerLen > len(tt.raw) {
				t.Fatalf("unreasonable headerLen: %d", headerLen)
			}
			if tt.checkReq != nil {
				tt.checkReq(t, req)
			}
		})
	}
}

func TestParseContentLength(t *testing.T) {
	if n, present, err := ParseContentLength(""); err != nil || present || n != 0 {
		t.Fatalf("expected absent header to report present=false, got n=%d present=%v err=%v", n, present, err)
	}
	if n, present, err := ParseContentLength("42"); err != nil || !present || n != 42 {
		t.Fatalf("expected 42, got n=%d present=%v err=%v", n, present, err)
	}
	if _, _, err := ParseContentLength("-1"); !errors.Is(err, ErrMalformedLength) {
		t.Fatalf("expected ErrMalformedLength for a negative length, got %v", err)
	}
	if _, _, err := ParseContentLength("not-a-number"); !errors.Is(err, ErrMalformedLength) {
		t.Fatalf("expected ErrMalformedLength for a non-numeric length, got %v", err)
	}
}

func TestAcceptsDeflate(t *testing.T) {
	if !AcceptsDeflate("gzip, deflate, br") {
		t.Fatal("expected deflate to be recognized among a comma-separated list")
	}
	if AcceptsDeflate("gzip, br") {
		t.Fatal("expected deflate absence to be reported")
	}
}

func TestConnectionHasToken(t *testing.T) {
	if !ConnectionHasToken("keep-alive", "keep-alive") {
		t.Fatal("expected exact token match")
	}
	if !ConnectionHasToken("Upgrade, Keep-Alive", "keep-alive") {
		t.Fatal("expected case-insensitive, comma-separated token match")
	}
	if ConnectionHasToken("upgrade", "close") {
		t.Fatal("expected no match for an absent token")
	}
}

func TestBodyDetachSurvivesBufferReuse(t *testing.T) {
	rb := engine.NewReadBuffer()
	if err := rb.Grow([]byte("hello world")); err != nil {
		t.Fatalf("Grow: %v", err)
	}
	req := &ParsedRequest{}
	req.SetBodyView(engine.View{St: 0, End: 5})
	req.Detach(rb.Raw())

	rb.Reset()
	if err := rb.Grow([]byte("unrelated bytes that would alias the old view")); err != nil {
		t.Fatalf("Grow: %v", err)
	}

	if got := string(req.Body(nil)); got != "hello" {
		t.Fatalf("expected detached body to survive buffer reuse, got %q", got)
	}
}
