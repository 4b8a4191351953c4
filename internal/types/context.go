package types

import (
	"context"
	"strings"
)

// Context Keys
type contextKey string

const (
	requestIDKey   contextKey = "request_id"
	credentialsKey contextKey = "credentials"
	tenantKey      contextKey = "tenant_id"
	employeeKey    contextKey = "employee_id"
)

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithCredentials stores the employee's Authorization header value so that
// calls to the attendance API are made on their behalf.
func WithCredentials(ctx context.Context, authorization string) context.Context {
	return context.WithValue(ctx, credentialsKey, SecretString(strings.TrimSpace(authorization)))
}

// GetCredentials retrieves the forwarded Authorization header value.
func GetCredentials(ctx context.Context) (SecretString, bool) {
	v, ok := ctx.Value(credentialsKey).(SecretString)
	return v, ok && v != ""
}

// WithTenantID stores the tenant (company) the employee belongs to.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey, tenantID)
}

// GetTenantID retrieves the tenant ID from the context.
func GetTenantID(ctx context.Context) string {
	id, _ := ctx.Value(tenantKey).(string)
	return id
}

// WithEmployeeID stores the employee the forwarded token was issued to. It is
// used for log attribution only.
func WithEmployeeID(ctx context.Context, employeeID string) context.Context {
	return context.WithValue(ctx, employeeKey, employeeID)
}

// GetEmployeeID retrieves the employee ID from the context.
func GetEmployeeID(ctx context.Context) string {
	id, _ := ctx.Value(employeeKey).(string)
	return id
}
