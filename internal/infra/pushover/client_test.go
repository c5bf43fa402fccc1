package pushover_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"vera-home/internal/infra/pushover"
)

func TestNotify(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm error: %v", err)
		}
		got = map[string]string{
			"token":    r.PostForm.Get("token"),
			"user":     r.PostForm.Get("user"),
			"message":  r.PostForm.Get("message"),
			"title":    r.PostForm.Get("title"),
			"priority": r.PostForm.Get("priority"),
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := pushover.NewClient("tok", "usr", pushover.WithEndpoint(srv.URL))
	if err := c.NotifyUrgent(context.Background(), "Front Door: battery low"); err != nil {
		t.Fatalf("NotifyUrgent error: %v", err)
	}

	want := map[string]string{"token": "tok", "user": "usr", "message": "Front Door: battery low", "title": "Vera", "priority": "1"}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s: got %q, want %q", k, got[k], v)
		}
	}
}

func TestNotify_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := pushover.NewClient("tok", "usr", pushover.WithEndpoint(srv.URL))
	if err := c.Notify(context.Background(), "hi"); err == nil {
		t.Errorf("expected error for 400 response")
	}
}

func TestNotify_Unconfigured(t *testing.T) {
	c := pushover.NewClient("", "", pushover.WithEndpoint("http://127.0.0.1:1"))
	if err := c.Notify(context.Background(), "hi"); err != nil {
		t.Errorf("unconfigured client should be a no-op, got %v", err)
	}
}
