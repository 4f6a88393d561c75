package auth

import "context"

type contextKey string

const (
	contextKeyOrg     contextKey = "auth.org_id"
	contextKeyRole    contextKey = "auth.role"
	contextKeySubject contextKey = "auth.subject"
)

// WithIdentity stores auth identity details in context.
func WithIdentity(ctx context.Context, orgID string, role Role, subject string) context.Context {
	ctx = context.WithValue(ctx, contextKeyOrg, orgID)
	ctx = context.WithValue(ctx, contextKeyRole, role)
	ctx = context.WithValue(ctx, contextKeySubject, subject)
	return ctx
}

// OrgIDFromContext extracts the organization id from context.
func OrgIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if orgID, ok := ctx.Value(contextKeyOrg).(string); ok {
		return orgID
	}
	return ""
}

// RoleFromContext extracts role from context.
func RoleFromContext(ctx context.Context) Role {
	if ctx == nil {
		return ""
	}
	switch value := ctx.Value(contextKeyRole).(type) {
	case Role:
		return value
	case string:
		if role, ok := NormalizeRole(value); ok {
			return role
		}
	}
	return ""
}

// SubjectFromContext extracts subject from context.
func SubjectFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if subject, ok := ctx.Value(contextKeySubject).(string); ok {
		return subject
	}
	return ""
}
