package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func roleGateRequest(t *testing.T, planted string, required string) int {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m := &AuthMiddleware{}
	router := gin.New()
	router.Use(func(c *gin.Context) {
		if planted != "" {
			c.Set("roleType", planted)
		}
	})
	router.POST("/gated", m.RoleRequired(required), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/gated", nil))
	return rec.Code
}

func TestRoleRequired(t *testing.T) {
	cases := []struct {
		name     string
		planted  string
		required string
		want     int
	}{
		{"matching role passes", "STUDENT", "STUDENT", http.StatusNoContent},
		{"other role is forbidden", "MENTOR", "STUDENT", http.StatusForbidden},
		{"missing role is unauthorized", "", "STUDENT", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := roleGateRequest(t, tc.planted, tc.required); got != tc.want {
				t.Errorf("status = %d, want %d", got, tc.want)
			}
		})
	}
}
