package router

import (
	"testing"

	"github.com/s00inx/goserver/server/protocol"
)

func TestHTTPRouterMatch(t *testing.T) {
	r := NewHTTPRouter()

	r.Route("/api/v1/user", func(c *Context) { c.Send(200, []byte("user")) })
	r.Route("/api/v1/order", func(c *Context) { c.Send(200, []byte("order")) })
	r.Route("/api/v1/user/:id", func(c *Context) { c.Send(200, []byte(c.Param("id"))) })

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"static match", "/api/v1/user", 200, "user"},
		{"static match order", "/api/v1/order", 200, "order"},
		{"param match", "/api/v1/user/123", 200, "123"},
		{"no match", "/api/v1/unknown", 404, "not found"},
		{"partial match", "/api/v1", 404, "not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &protocol.ParsedRequest{Method: protocol.MethodGET, URL: tt.path}
			env := r.Serve(req, nil)
			if env.Status != tt.wantStatus {
				t.Errorf("Status = %d, want %d", env.Status, tt.wantStatus)
			}
			if string(env.Body) != tt.wantBody {
				t.Errorf("Body = %q, want %q", env.Body, tt.wantBody)
			}
		})
	}
}

func BenchmarkHTTPRouterStatic(b *testing.B) {
	r := NewHTTPRouter()
	r.Route("/api/v1/user/profile/settings", func(c *Context) { c.Send(200, nil) })
	req := &protocol.ParsedRequest{Method: protocol.MethodGET, URL: "/api/v1/user/profile/settings"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.Serve(req, nil)
	}
}

func BenchmarkHTTPRouterParam(b *testing.B) {
	r := NewHTTPRouter()
	r.Route("/api/v1/user/:id/posts/:post_id", func(c *Context) { c.Send(200, nil) })
	req := &protocol.ParsedRequest{Method: protocol.MethodGET, URL: "/api/v1/user/123/posts/456"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.Serve(req, nil)
	}
}
