package httpx

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_GetFollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/b", http.StatusFound)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/final?x=1", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/final", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "done")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(2 * time.Second)
	final, body, err := c.Get(context.Background(), srv.URL+"/a")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/final?x=1", final)
	assert.Equal(t, "done", string(body))
}

func TestClient_GetTooManyRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	}))
	defer srv.Close()

	_, _, err := New(2*time.Second).Get(context.Background(), srv.URL+"/loop")
	assert.ErrorIs(t, err, ErrTooManyRedirects)
}

func TestClient_DoStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, "denied")
	}))
	defer srv.Close()

	_, err := New(2*time.Second).Do(context.Background(), Request{
		Method:  http.MethodPost,
		URL:     srv.URL,
		Headers: map[string]string{"Authorization": "Bearer k"},
		Body:    []byte("x"),
	})
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusForbidden, statusErr.Code)
	assert.Equal(t, "denied", statusErr.Body)
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	_, _, err := New(100*time.Millisecond).Get(context.Background(), srv.URL)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}
