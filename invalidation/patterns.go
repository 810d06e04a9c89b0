package invalidation

import (
	"net/url"
	"strings"

	"github.com/budgetly/orchestrator/pkg/utils"
)

// userIDPlaceholder is replaced by the user ID derived from a write URL.
const userIDPlaceholder = "{userId}"

// Resource is one row of the invalidation table: a write to any path
// matching Writes clears every cached read under Reads.
//
// Read paths may contain {userId}; those prefixes are produced only when the
// write URL carries a user ID (a /users/{id}/ path segment or a userId /
// user_id query parameter).
type Resource struct {
	Name   string
	Writes []string // path globs, relative to the table's base path
	Reads  []string // path prefixes, relative to the table's base path
}

// ResourceTable maps write URLs to the cache-key prefixes they invalidate.
// The mapping is fixed: unmapped paths invalidate nothing.
type ResourceTable struct {
	basePath  string
	resources []Resource
}

// family builds the standard row for a collection: writes to the collection
// or one of its members, plain or user-scoped.
func family(name string, related ...string) Resource {
	base := "/" + name
	scoped := "/users/*/" + name
	reads := []string{base, "/users/" + userIDPlaceholder + "/" + name}
	for _, r := range related {
		reads = append(reads, "/"+r)
	}
	return Resource{
		Name:   name,
		Writes: []string{base, base + "/*", scoped, scoped + "/*"},
		Reads:  reads,
	}
}

// DefaultResources is the reference resource table.
func DefaultResources() []Resource {
	return []Resource{
		family("recurring", "dashboard"),
		family("transactions", "accounts", "budgets", "dashboard"),
		family("budgets", "dashboard"),
		family("accounts", "dashboard"),
		family("goals", "dashboard"),
		{
			Name:   "profile",
			Writes: []string{"/profile", "/profile/*", "/users/me", "/users/me/*"},
			Reads:  []string{"/profile", "/users/me"},
		},
	}
}

// NewResourceTable creates a table. basePath (e.g. "/api/v1") is stripped
// from write paths before matching and prepended to read prefixes.
func NewResourceTable(basePath string, resources []Resource) *ResourceTable {
	basePath = strings.TrimRight(basePath, "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	return &ResourceTable{basePath: basePath, resources: resources}
}

// DefaultResourceTable returns the reference table with no base path.
func DefaultResourceTable() *ResourceTable {
	return NewResourceTable("", DefaultResources())
}

// Lookup returns the resource a write URL belongs to.
func (t *ResourceTable) Lookup(rawURL string) (Resource, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Resource{}, false
	}
	path, ok := t.relativePath(u.Path)
	if !ok {
		return Resource{}, false
	}
	return t.match(path)
}

// Prefixes returns the cache-key prefixes ("GET <origin><path>") that a
// successful write to rawURL invalidates. Nil when the URL is unmapped.
func (t *ResourceTable) Prefixes(rawURL string) []string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	path, ok := t.relativePath(u.Path)
	if !ok {
		return nil
	}
	res, ok := t.match(path)
	if !ok {
		return nil
	}

	userID := userIDFrom(path, u.Query())
	origin := u.Scheme + "://" + u.Host

	seen := make(map[string]bool, len(res.Reads))
	prefixes := make([]string, 0, len(res.Reads))
	for _, read := range res.Reads {
		if strings.Contains(read, userIDPlaceholder) {
			if userID == "" {
				continue
			}
			read = strings.ReplaceAll(read, userIDPlaceholder, url.PathEscape(userID))
		}
		p := "GET " + origin + t.basePath + read
		if !seen[p] {
			seen[p] = true
			prefixes = append(prefixes, p)
		}
	}
	return prefixes
}

func (t *ResourceTable) relativePath(path string) (string, bool) {
	if t.basePath == "" {
		return path, true
	}
	if path == t.basePath {
		return "/", true
	}
	if !strings.HasPrefix(path, t.basePath+"/") {
		return "", false
	}
	return strings.TrimPrefix(path, t.basePath), true
}

func (t *ResourceTable) match(path string) (Resource, bool) {
	path = strings.TrimRight(path, "/")
	for _, res := range t.resources {
		for _, pattern := range res.Writes {
			if ok, err := utils.MatchPattern(pattern, path); err == nil && ok {
				return res, true
			}
		}
	}
	return Resource{}, false
}

// userIDFrom extracts a user ID from /users/{id}/... or a userId/user_id
// query parameter. "me" is not an ID.
func userIDFrom(path string, query url.Values) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) >= 2 && segments[0] == "users" && segments[1] != "me" && segments[1] != "" {
		return segments[1]
	}
	for _, name := range []string{"userId", "user_id"} {
		if v := query.Get(name); v != "" {
			return v
		}
	}
	return ""
}
