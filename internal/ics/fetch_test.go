package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchCachesAndRevalidates(t *testing.T) {
	const body = "BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"
	hits := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	sub := Subscription{CourseID: "c1", Name: "Math", URL: srv.URL + "/math.ics"}
	ctx := context.Background()

	first, err := f.Fetch(ctx, sub)
	if err != nil {
		t.Fatal(err)
	}
	if first.FromCache || string(first.Body) != body {
		t.Fatalf("unexpected first fetch: cache=%v body=%q", first.FromCache, first.Body)
	}

	second, err := f.Fetch(ctx, sub)
	if err != nil {
		t.Fatal(err)
	}
	if !second.FromCache || string(second.Body) != body {
		t.Fatalf("expected 304 cache hit: cache=%v body=%q", second.FromCache, second.Body)
	}
	if hits != 2 {
		t.Fatalf("expected 2 requests, got %d", hits)
	}
}

func TestFetchFallsBackToCacheOnServerError(t *testing.T) {
	const body = "BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"
	failing := false

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if failing {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	sub := Subscription{CourseID: "c1", URL: srv.URL}
	ctx := context.Background()

	if _, err := f.Fetch(ctx, sub); err != nil {
		t.Fatal(err)
	}

	failing = true
	res, err := f.Fetch(ctx, sub)
	if err != nil {
		t.Fatal(err)
	}
	if !res.FromCache || string(res.Body) != body {
		t.Fatalf("expected cached fallback: cache=%v body=%q", res.FromCache, res.Body)
	}
}

func TestFetchRejectsEmptyURL(t *testing.T) {
	f := NewFetcher(t.TempDir())
	if _, err := f.Fetch(context.Background(), Subscription{}); err == nil {
		t.Fatal("expected error for empty URL")
	}
}

func TestRedactURL(t *testing.T) {
	got := redactURL("https://cal.example.edu/feeds/private.ics?token=secret")
	if got != "https://cal.example.edu/...(redacted)" {
		t.Fatalf("unexpected redaction: %q", got)
	}
	if redactURL("garbage") != "ics://...(redacted)" {
		t.Fatal("schemeless input should fully redact")
	}
}
