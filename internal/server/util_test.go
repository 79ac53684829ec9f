package server

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestBasePath(t *testing.T) {
	cases := map[string]string{
		"":        "",
		"/":       "",
		"andon":   "/andon",
		"/andon":  "/andon",
		"/andon/": "/andon",
		" andon ": "/andon",
		"//a/b//": "/a/b",
	}
	for in, want := range cases {
		if got := basePath(in); got != want {
			t.Fatalf("basePath(%q)=%q want %q", in, got, want)
		}
	}
}

func TestWriteJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	writeJSON(c, 201, map[string]int{"n": 1})
	if w.Code != 201 || w.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("unexpected response %d %q", w.Code, w.Header().Get("Content-Type"))
	}
	if w.Body.String() != "{\"n\":1}\n" {
		t.Fatalf("body: %q", w.Body.String())
	}
}
