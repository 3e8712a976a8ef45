package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/abie0416/BiegeAI/pkg/loader"
)

func TestGetFileText(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/notes.txt":
			w.Header().Set("Content-Type", "text/plain")
			w.Write([]byte("Eric knows Sam"))
		case "/article":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Write([]byte(`<html><head><title>Team</title></head><body>
				<nav>menu</nav>
				<article><h1>Team news</h1>
				<p>Sam is a basketball player who trains every day with the team and has played for many years in the city league.</p>
				<p>Eric knows Sam from school and often watches the games on the weekend together with friends and family.</p>
				</article></body></html>`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	l := NewWebLoader(srv.Client())

	t.Run("plain text", func(t *testing.T) {
		file := loader.SourceFile{ID: "n", Path: srv.URL + "/notes.txt"}
		text, err := l.GetFileText(context.Background(), file)
		if err != nil {
			t.Fatalf("GetFileText: %v", err)
		}
		if string(text) != "Eric knows Sam" {
			t.Fatalf("got %q", text)
		}
		before := hits.Load()
		if _, err := l.GetFileText(context.Background(), file); err != nil {
			t.Fatalf("GetFileText: %v", err)
		}
		if hits.Load() != before {
			t.Fatalf("expected cached response")
		}
	})

	t.Run("html", func(t *testing.T) {
		text, err := l.GetFileText(context.Background(), loader.SourceFile{ID: "a", Path: srv.URL + "/article"})
		if err != nil {
			t.Fatalf("GetFileText: %v", err)
		}
		if !strings.Contains(string(text), "basketball player") || strings.Contains(string(text), "<p>") {
			t.Fatalf("unexpected article text %q", text)
		}
	})

	t.Run("not found", func(t *testing.T) {
		if _, err := l.GetFileText(context.Background(), loader.SourceFile{ID: "x", Path: srv.URL + "/missing"}); err == nil {
			t.Fatalf("expected error")
		}
	})
}
