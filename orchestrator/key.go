package orchestrator

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	cachemanager "github.com/budgetly/orchestrator/cache-manager"
	"github.com/budgetly/orchestrator/pkg/utils"
)

// Request describes one call to Fetch. Treat it as immutable once passed in.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// NewRequest builds a Request, encoding body as JSON when it is not nil.
// A []byte body is sent as is.
func NewRequest(method, rawURL string, body interface{}) (*Request, error) {
	req := &Request{Method: method, URL: rawURL, Header: make(http.Header)}
	switch b := body.(type) {
	case nil:
	case []byte:
		req.Body = b
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		req.Body = data
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// normalize returns a copy of req with an upper-case method, a canonical URL
// and its own header map.
func normalize(req *Request) (*Request, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}

	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", req.URL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid url %q: absolute URL required", req.URL)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	header := make(http.Header, len(req.Header)+1)
	for k, v := range req.Header {
		header[k] = append([]string(nil), v...)
	}

	return &Request{Method: method, URL: u.String(), Header: header, Body: req.Body}, nil
}

// RequestKey derives the dedup and cache key for a normalized request:
//
//	"<METHOD> <url>|a:<digest(Authorization)>|b:<digest(body)>|<cache|nocache>"
//
// It performs no I/O. The key starts with "<METHOD> <url>" so invalidation
// can clear a resource with a plain prefix match.
func RequestKey(req *Request, mode cachemanager.CacheMode) string {
	auth, _ := utils.HeaderValue(req.Header, "Authorization")

	var b strings.Builder
	b.Grow(len(req.Method) + len(req.URL) + 48)
	b.WriteString(req.Method)
	b.WriteByte(' ')
	b.WriteString(req.URL)
	b.WriteString("|a:")
	b.WriteString(utils.DigestString(auth))
	b.WriteString("|b:")
	b.WriteString(utils.Digest(req.Body))
	b.WriteByte('|')
	b.WriteString(mode.String())
	return b.String()
}
