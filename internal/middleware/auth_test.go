package middleware

import (
	"gradeglide_backend/internal/model"
	"gradeglide_backend/internal/util"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

const secret = "0123456789abcdef0123456789abcdef"

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/private", AuthMiddleware(secret), func(c *gin.Context) {
		claims := util.GetUserFromContext(c)
		c.String(http.StatusOK, claims.Email)
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	user := &model.User{Email: "t@school.edu", Role: model.Teacher}
	user.ID = 3
	token, err := util.GenerateJWT(user, secret, time.Hour)
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	cases := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"garbage", "Bearer nope", "", http.StatusUnauthorized},
		{"header", "Bearer " + token, "", http.StatusOK},
		{"query", "", "?token=" + token, http.StatusOK},
	}
	r := newRouter()
	for _, c := range cases {
		req := httptest.NewRequest(http.MethodGet, "/private"+c.query, nil)
		if c.header != "" {
			req.Header.Set("Authorization", c.header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != c.want {
			t.Fatalf("%s: want=%d got=%d", c.name, c.want, w.Code)
		}
		if c.want == http.StatusOK && w.Body.String() != user.Email {
			t.Fatalf("%s: claims not set, body=%q", c.name, w.Body.String())
		}
	}
}
