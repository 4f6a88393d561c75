package auth

import (
	"net/http"
	"strings"
)

// routeRule maps a path prefix to the role needed to read and to write it.
type routeRule struct {
	prefix string
	read   Role
	write  Role
}

// Operator routes, most specific first.
var operatorRoutes = []routeRule{
	{prefix: "/api/v1/partitions/overrides", read: RoleViewer, write: RoleAdmin},
	{prefix: "/api/v1/partitions", read: RoleViewer, write: RoleAdmin},
	{prefix: "/api/v1/alerts", read: RoleViewer, write: RoleOperator},
	{prefix: "/api/v1/units/", read: RoleViewer, write: RoleOperator},
}

// Policy decides which requests need an operator token and which role they need.
type Policy struct {
	ExemptPaths    map[string]struct{}
	ExemptPrefixes []string
}

// NewDefaultPolicy builds the operator policy. Exempt routes bypass the JWT
// check; ingest routes carry their own machine credentials.
func NewDefaultPolicy(exemptPaths []string, exemptPrefixes []string) Policy {
	set := make(map[string]struct{}, len(exemptPaths))
	for _, path := range exemptPaths {
		set[path] = struct{}{}
	}
	return Policy{ExemptPaths: set, ExemptPrefixes: exemptPrefixes}
}

func (p Policy) IsExempt(r *http.Request) bool {
	if r == nil {
		return true
	}
	if _, ok := p.ExemptPaths[r.URL.Path]; ok {
		return true
	}
	for _, prefix := range p.ExemptPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}

// RequiredRole returns the minimum role for the request. Unknown /api/ paths
// fall back to viewer for reads and operator for writes.
func (p Policy) RequiredRole(r *http.Request) (Role, bool) {
	if r == nil {
		return "", false
	}
	read := isReadMethod(r.Method)
	for _, rule := range operatorRoutes {
		if !strings.HasPrefix(r.URL.Path, rule.prefix) {
			continue
		}
		if read {
			return rule.read, true
		}
		return rule.write, true
	}
	if strings.HasPrefix(r.URL.Path, "/api/") {
		if read {
			return RoleViewer, true
		}
		return RoleOperator, true
	}
	return "", false
}

func isReadMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
