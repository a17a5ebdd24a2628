package httpfeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestGetTextSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("10.0.0.0/8 # comment\n172.16.0.0/12\n"))
	}))
	defer srv.Close()

	c := New(time.Second)
	body := c.GetText(context.Background(), srv.URL)
	if !strings.Contains(body, "10.0.0.0/8") {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestGetTextNon2xxReturnsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(time.Second)
	if body := c.GetText(context.Background(), srv.URL); body != "" {
		t.Fatalf("expected empty body on 500, got %q", body)
	}
}

func TestGetTextUnreachableReturnsEmpty(t *testing.T) {
	c := New(50 * time.Millisecond)
	body := c.GetText(context.Background(), "http://127.0.0.1:1")
	if body != "" {
		t.Fatalf("expected empty body on unreachable host, got %q", body)
	}
}

func TestGetTextEmptyURL(t *testing.T) {
	c := New(time.Second)
	if body := c.GetText(context.Background(), ""); body != "" {
		t.Fatalf("expected empty body for empty url, got %q", body)
	}
}
