package pinclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPin_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-jwt" {
			t.Errorf("missing bearer auth header")
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parsing multipart form: %v", err)
		}
		w.Write([]byte(`{"IpfsHash":"QmTestCID"}`))
	}))
	defer srv.Close()

	c := New("test-jwt")
	c.endpoint = srv.URL

	cid, err := c.Pin(context.Background(), []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("Pin: %v", err)
	}
	if cid != "QmTestCID" {
		t.Errorf("unexpected cid: %s", cid)
	}
}

func TestPin_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New("bad-jwt")
	c.endpoint = srv.URL

	_, err := c.Pin(context.Background(), []byte("x"))
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected a 401 error, got %v", err)
	}
}
