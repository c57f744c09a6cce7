package proxycheck

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "json", r.URL.Query().Get("format"))
		require.Equal(t, "ops@example.com", r.URL.Query().Get("contact"))
		switch r.URL.Query().Get("ip") {
		case "198.51.100.7":
			w.Write([]byte(`{"status":"success","result":"0.99"}`))
		case "192.0.2.1":
			w.Write([]byte(`{"status":"error","result":"-3","message":"Invalid IP"}`))
		default:
			w.Write([]byte(`{"status":"success","result":"0"}`))
		}
	}))
	defer srv.Close()

	g := NewGetIPIntel(srv.URL+"/check.php", "ops@example.com", time.Second)

	score, err := g.Score(context.Background(), "198.51.100.7")
	require.NoError(t, err)
	require.InDelta(t, 0.99, score, 1e-9)

	score, err = g.Score(context.Background(), "192.0.2.1")
	require.NoError(t, err)
	require.Less(t, score, 0.0)

	score, err = g.Score(context.Background(), "203.0.113.1")
	require.NoError(t, err)
	require.Zero(t, score)
}

func TestScoreTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	_, err := NewGetIPIntel(srv.URL, "ops@example.com", 50*time.Millisecond).Score(context.Background(), "203.0.113.1")
	require.Error(t, err)
}

func TestDisabled(t *testing.T) {
	score, err := Disabled{}.Score(context.Background(), "203.0.113.1")
	require.NoError(t, err)
	require.Zero(t, score)
}
