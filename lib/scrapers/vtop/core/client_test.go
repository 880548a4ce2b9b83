package core

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"
	"vtopassist-backend/lib/telemetry"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(context.Background(), ClientOptions{
		BaseURL: baseURL,
		Timeout: 2 * time.Second,
	})
	require.NoError(t, err)
	// keep test retries fast
	client.Http.SetRetryWaitTime(time.Millisecond)
	client.Http.SetRetryMaxWaitTime(5 * time.Millisecond)
	return client
}

func TestClientRetriesServerErrors(t *testing.T) {
	defer telemetry.SetupForTesting(t, "test:vtop-core")()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	res, err := client.Get(context.Background(), server.URL+"/page")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode())
	require.Equal(t, "ok", string(res.Body()))
	require.Equal(t, int32(3), hits.Load())
}

func TestClientStopsAfterThreeAttempts(t *testing.T) {
	defer telemetry.SetupForTesting(t, "test:vtop-core")()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	res, err := client.Get(context.Background(), server.URL+"/page")
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, res.StatusCode())
	require.Equal(t, int32(3), hits.Load())
}

func TestClientRetriesTimeouts(t *testing.T) {
	defer telemetry.SetupForTesting(t, "test:vtop-core")()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			time.Sleep(500 * time.Millisecond)
			return
		}
		w.Write([]byte("finally"))
	}))
	defer server.Close()

	client, err := NewClient(context.Background(), ClientOptions{
		BaseURL: server.URL,
		Timeout: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	client.Http.SetRetryWaitTime(time.Millisecond)
	client.Http.SetRetryMaxWaitTime(5 * time.Millisecond)

	res, reqErr := client.Get(context.Background(), server.URL+"/slow")
	require.NoError(t, reqErr)
	require.Equal(t, "finally", string(res.Body()))
	require.Equal(t, int32(3), hits.Load())
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	defer telemetry.SetupForTesting(t, "test:vtop-core")()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	res, err := client.Get(context.Background(), server.URL+"/missing")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, res.StatusCode())
	require.Equal(t, int32(1), hits.Load())
}

func TestClientWalksRedirectsWithJar(t *testing.T) {
	defer telemetry.SetupForTesting(t, "test:vtop-core")()

	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Set-Cookie", "first=1; Path=/")
		w.Header().Set("Location", "/b")
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		// the cookie set on the previous hop must already be replayed
		if r.Header.Get("Cookie") != "first=1" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Add("Set-Cookie", "second=2; Path=/")
		w.Header().Set("Location", "/c")
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/c", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("cookie: " + r.Header.Get("Cookie")))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(t, server.URL)
	res, err := client.Get(context.Background(), server.URL+"/a")
	require.NoError(t, err)
	res, err = client.FollowRedirects(context.Background(), res)
	require.NoError(t, err)

	require.Equal(t, "cookie: first=1; second=2", string(res.Body()))
	require.Equal(t, server.URL+"/c", FinalURL(res))
	require.Equal(t, map[string]string{"first": "1", "second": "2"}, client.Jar.Snapshot())
}

func TestClientReplaysBodyOnTemporaryRedirect(t *testing.T) {
	defer telemetry.SetupForTesting(t, "test:vtop-core")()

	var movedMethod, movedFlag string
	mux := http.NewServeMux()
	mux.HandleFunc("/submit", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/moved")
		w.WriteHeader(http.StatusTemporaryRedirect)
	})
	mux.HandleFunc("/moved", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		movedMethod = r.Method
		movedFlag = r.PostForm.Get("flag")
		w.Header().Set("Location", "/done")
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/done", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Method))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(t, server.URL)
	res, err := client.PostForm(context.Background(), server.URL+"/submit", url.Values{"flag": {"VTOP"}}, nil)
	require.NoError(t, err)
	res, err = client.FollowRedirects(context.Background(), res)
	require.NoError(t, err)

	// the 307 hop kept the POST and its form body
	require.Equal(t, "POST", movedMethod)
	require.Equal(t, "VTOP", movedFlag)
	// the 302 after it downgraded to GET
	require.Equal(t, "GET", string(res.Body()))
	require.Equal(t, server.URL+"/done", FinalURL(res))
}

func TestClientStopsAfterMaxRedirectHops(t *testing.T) {
	defer telemetry.SetupForTesting(t, "test:vtop-core")()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/loop")
		w.WriteHeader(http.StatusFound)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	res, err := client.Get(context.Background(), server.URL+"/loop")
	require.NoError(t, err)
	res, err = client.FollowRedirects(context.Background(), res)
	require.NoError(t, err)
	// gives up with the last 3xx rather than looping forever
	require.Equal(t, http.StatusFound, res.StatusCode())
}
