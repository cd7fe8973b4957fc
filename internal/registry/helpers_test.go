package registry_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chinmina/imagedrift/internal/config"
)

// staticServer answers every request with the same status and body.
func staticServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(server.Close)

	return server
}

// slowServer delays every response by delay.
func slowServer(t *testing.T, delay time.Duration) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	return server
}

func registryConfig(server *httptest.Server) config.RegistryConfig {
	return config.RegistryConfig{
		AuthURL:        server.URL + "/",
		Service:        "registry.test",
		URL:            server.URL + "/v2/",
		RequestTimeout: 5 * time.Second,
		TokenTTL:       time.Minute,
		TokenCacheSize: 100,
	}
}
