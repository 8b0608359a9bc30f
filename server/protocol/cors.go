// CORS preflight handling and cross-origin response header injection
// (spec.md §4.5). Nothing in the retrieved example pack implements CORS —
// this is built from the spec's own wire description, in the teacher's
// zero-copy-where-cheap style.
package protocol

import "strconv"

// CORSPolicy is the configured cross-origin behavior spec.md §4.5 leaves
// as "by policy": which origins get echoed back, and the exposed-header
// allowlist for non-preflight responses.
type CORSPolicy struct {
	// AllowedOrigins lists the Origin values echoed back when
	// AllowAnyOrigin is false; a nil/empty list then allows no origin. "*" here means
	// literally allow only the origin "*", which is never sent by a
	// browser — use AllowAnyOrigin for the wildcard case.
	AllowedOrigins []string
	// AllowAnyOrigin, when true, echoes back whatever Origin the request
	// carried (the common case for public APIs) instead of consulting
	// AllowedOrigins.
	AllowAnyOrigin bool
	// AllowCredentials controls the Access-Control-Allow-Credentials
	// value for allowed origins. Per the CORS spec this must be false
	// whenever the allow-origin value is the literal wildcard "*"; this
	// implementation always echoes the specific origin rather than
	// emitting "*", so AllowCredentials is honored as configured.
	AllowCredentials bool
	// ExposedHeaders is the default set spec.md §4.5 names, kept
	// configurable since a real deployment adds its own.
	ExposedHeaders []string
	MaxAgeSeconds  int
}

// DefaultCORSPolicy matches spec.md §4.5's literal defaults.
func DefaultCORSPolicy() CORSPolicy {
	return CORSPolicy{
		AllowAnyOrigin:   true,
		AllowCredentials: true,
		ExposedHeaders: []string{
			"etag", "content-encoding", "content-length", "content-type",
			"location", "server", "x-arango-*",
		},
		MaxAgeSeconds: 1800,
	}
}

const allowMethodsValue = "DELETE, GET, HEAD, OPTIONS, PATCH, POST, PUT"

// allowOrigin decides the Access-Control-Allow-Origin value for origin, and
// whether it is permitted at all.
func (p CORSPolicy) allowOrigin(origin string) (value string, allowed bool) {
	if origin == "" {
		return "", false
	}
	if p.AllowAnyOrigin {
		return origin, true
	}
	for _, o := range p.AllowedOrigins {
		if o == origin {
			return origin, true
		}
	}
	return "", false
}

// DenyCredentials reports spec.md §3's `denyCredentials` flag for a given
// origin under this policy: true whenever the origin isn't allowed, or the
// policy doesn't allow credentials.
func (p CORSPolicy) DenyCredentials(origin string) bool {
	_, allowed := p.allowOrigin(origin)
	return !allowed || !p.AllowCredentials
}

// IsPreflight reports whether req is a CORS preflight per spec.md §4.1
// step 2: an OPTIONS request carrying both Origin and
// Access-Control-Request-Method.
func IsPreflight(req *ParsedRequest) bool {
	return req.Method == MethodOPTIONS &&
		req.Headers.Get("Origin") != "" &&
		req.Headers.Get("Access-Control-Request-Method") != ""
}

// BuildPreflightResponse builds the 200 response spec.md §4.5 describes
// for a preflight request: empty body, echoed Allow-Headers, the fixed
// Allow-Methods list, and Allow-Credentials per policy.
func BuildPreflightResponse(req *ParsedRequest, policy CORSPolicy) *ResponseEnvelope {
	origin := req.Headers.Get("Origin")
	allowValue, allowed := policy.allowOrigin(origin)

	env := &ResponseEnvelope{Status: 200, Kind: BodyBytes}
	if allowed {
		env.Headers.Set("Access-Control-Allow-Origin", allowValue)
	}
	env.Headers.Set("Access-Control-Allow-Methods", allowMethodsValue)
	if reqHeaders := req.Headers.Get("Access-Control-Request-Headers"); reqHeaders != "" {
		env.Headers.Set("Access-Control-Allow-Headers", reqHeaders)
	}
	env.Headers.Set("Access-Control-Max-Age", strconv.Itoa(policy.MaxAgeSeconds))
	env.Headers.Set("Access-Control-Allow-Credentials", boolString(!policy.DenyCredentials(origin)))
	return env
}

// ApplyCrossOriginHeaders adds the non-preflight cross-origin headers
// spec.md §4.5 names, for any response to a request that carried an
// Origin header.
func ApplyCrossOriginHeaders(env *ResponseEnvelope, req *ParsedRequest, policy CORSPolicy) {
	origin := req.Headers.Get("Origin")
	if origin == "" {
		return
	}
	allowValue, allowed := policy.allowOrigin(origin)
	if !allowed {
		return
	}
	env.Headers.Set("Access-Control-Allow-Origin", allowValue)
	if len(policy.ExposedHeaders) > 0 {
		env.Headers.Set("Access-Control-Expose-Headers", joinComma(policy.ExposedHeaders))
	}
	env.Headers.Set("Access-Control-Allow-Credentials", boolString(!policy.DenyCredentials(origin)))
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func joinComma(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}
