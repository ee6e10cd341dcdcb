package enrichment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visitor-tracker/internal/common/logging"
)

func testProvider(t *testing.T, baseURL string, priority int) *Provider {
	t.Helper()
	return NewProvider(ProviderConfig{
		Name:       "test",
		BaseURL:    baseURL,
		APIKey:     "secret-key",
		Timeout:    2 * time.Second,
		Priority:   priority,
		RetryDelay: time.Millisecond,
	}, logging.NewDefaultLogger())
}

func TestProvider_Lookup(t *testing.T) {
	t.Run("sends bearer auth and email query", func(t *testing.T) {
		var gotAuth, gotEmail string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			gotEmail = r.URL.Query().Get("email")
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"company_name":"Acme"}`))
		}))
		defer server.Close()

		fields, err := testProvider(t, server.URL, 1).Lookup(context.Background(), "a@b.com")
		require.NoError(t, err)
		assert.Equal(t, "Bearer secret-key", gotAuth)
		assert.Equal(t, "a@b.com", gotEmail)
		assert.Equal(t, "Acme", fields["company_name"])
	})

	t.Run("retries transient failures with linear backoff", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.Write([]byte(`{"company":"Acme"}`))
		}))
		defer server.Close()

		fields, err := testProvider(t, server.URL, 1).Lookup(context.Background(), "a@b.com")
		require.NoError(t, err)
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
		assert.Equal(t, "Acme", fields["company"])
	})

	t.Run("gives up after three attempts", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		_, err := testProvider(t, server.URL, 1).Lookup(context.Background(), "a@b.com")
		require.Error(t, err)
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	})

	t.Run("invalid JSON is an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`not json`))
		}))
		defer server.Close()

		_, err := testProvider(t, server.URL, 1).Lookup(context.Background(), "a@b.com")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid JSON")
	})

	t.Run("cancelled context stops retrying", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		provider := NewProvider(ProviderConfig{
			Name:       "slow",
			BaseURL:    server.URL,
			APIKey:     "k",
			Timeout:    time.Second,
			RetryDelay: time.Hour,
		}, logging.NewDefaultLogger())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			_, err := provider.Lookup(ctx, "a@b.com")
			done <- err
		}()

		time.Sleep(50 * time.Millisecond)
		cancel()

		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(2 * time.Second):
			t.Fatal("lookup did not observe cancellation")
		}
	})
}
