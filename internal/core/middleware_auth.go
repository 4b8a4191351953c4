package core

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"attendance/internal/types"
)

// tenantHeader carries the company the employee belongs to.
const tenantHeader = "X-Tenant-Id"

// CredentialsMiddleware copies the caller's Authorization header and tenant
// into the request context. The agent never validates the token itself; the
// attendance API does when the agent calls it on the caller's behalf. The
// token subject, when readable, is kept for log attribution.
func CredentialsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if auth := strings.TrimSpace(r.Header.Get("Authorization")); auth != "" {
			ctx = types.WithCredentials(ctx, auth)
			if employee := employeeFromAuthorization(auth); employee != "" {
				ctx = types.WithEmployeeID(ctx, employee)
			}
		}
		if tenant := strings.TrimSpace(r.Header.Get(tenantHeader)); tenant != "" {
			ctx = types.WithTenantID(ctx, tenant)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireCredentials rejects requests without an Authorization header with
// 401. Mount it on routes that open sessions.
func RequireCredentials(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := types.GetCredentials(r.Context()); !ok {
			Error(w, r, types.NewAppError(
				types.ErrCodeAuthMissingCredentials,
				"an Authorization header is required",
				nil,
			))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// employeeFromAuthorization reads the subject of a bearer JWT without
// verifying it. The attendance API verifies the token; the result is only
// ever used to attribute log lines.
func employeeFromAuthorization(auth string) string {
	scheme, token, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(token), claims); err != nil {
		return ""
	}
	for _, key := range []string{"employee_id", "user_id", "sub"} {
		switch v := claims[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}
