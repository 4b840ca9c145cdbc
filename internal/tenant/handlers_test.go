package tenant

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/propline/onboarding/internal/billing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAdminSecret = "supersecret123"

func init() {
	gin.SetMode(gin.TestMode)
}

func setupRouter(t *testing.T) (*gin.Engine, *Tenant) {
	t.Helper()
	svc, _ := newTestService()
	tn, err := svc.Provision(context.Background(), ProvisionRequest{
		OnboardingToken: "tok_1", Name: "Test Tenant", Tier: billing.TierFree,
	})
	require.NoError(t, err)

	r := gin.New()
	admin := r.Group("/v1/admin", RequireAdmin(testAdminSecret))
	NewHandler(svc).RegisterAdminRoutes(admin)
	return r, tn
}

func do(r http.Handler, method, path string, body any, secret string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(AdminHeader, secret)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireAdmin(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		header     string
		wantAbort  bool
	}{
		{"correct secret", "supersecret123", "supersecret123", false},
		{"wrong secret", "supersecret123", "wrongsecret", true},
		{"missing header", "supersecret123", "", true},
		{"nothing configured", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request, _ = http.NewRequest(http.MethodGet, "/v1/admin/tenants/x", nil)
			if tt.header != "" {
				c.Request.Header.Set(AdminHeader, tt.header)
			}

			RequireAdmin(tt.configured)(c)

			assert.Equal(t, tt.wantAbort, c.IsAborted())
			if tt.wantAbort {
				assert.Equal(t, http.StatusForbidden, w.Code)
			}
		})
	}
}

func TestHandler_GetTenant(t *testing.T) {
	r, tn := setupRouter(t)

	w := do(r, http.MethodGet, "/v1/admin/tenants/"+tn.ID, nil, testAdminSecret)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Tenant map[string]any `json:"tenant"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "test-tenant", resp.Tenant["slug"])
	assert.NotContains(t, resp.Tenant, "onboardingToken")

	w = do(r, http.MethodGet, "/v1/admin/tenants/org_missing", nil, testAdminSecret)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodGet, "/v1/admin/tenants/"+tn.ID, nil, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandler_GetSubscription(t *testing.T) {
	r, tn := setupRouter(t)

	w := do(r, http.MethodGet, "/v1/admin/tenants/"+tn.ID+"/subscription", nil, testAdminSecret)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Subscription Subscription `json:"subscription"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, billing.TierFree, resp.Subscription.Tier)
	assert.Equal(t, SubscriptionActive, resp.Subscription.Status)
}

func TestHandler_UpdateBilling(t *testing.T) {
	r, tn := setupRouter(t)

	w := do(r, http.MethodPut, "/v1/admin/tenants/"+tn.ID+"/billing", gin.H{"stripeCustomerId": "cus_42"}, testAdminSecret)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"stripeCustomerId":"cus_42"`)

	w = do(r, http.MethodPut, "/v1/admin/tenants/"+tn.ID+"/billing", gin.H{"stripeCustomerId": "acct_42"}, testAdminSecret)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPut, "/v1/admin/tenants/"+tn.ID+"/billing", gin.H{}, testAdminSecret)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPut, "/v1/admin/tenants/org_missing/billing", gin.H{"stripeCustomerId": "cus_1"}, testAdminSecret)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
