package classifier

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClassifyArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "image/png", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		require.Equal(t, []byte("png-bytes"), body)
		w.Write([]byte(`[{"className":"banana","probability":0.87},{"className":"lemon","probability":0.1}]`))
	}))
	defer srv.Close()

	preds, err := NewHTTP(srv.URL, time.Second).Classify(context.Background(), []byte("png-bytes"))
	require.NoError(t, err)
	require.Len(t, preds, 2)
	require.Equal(t, "banana", preds[0].Label)
	require.InDelta(t, 0.87, preds[0].Probability, 1e-9)
}

func TestClassifyWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"predictions":[{"className":"hotdog","probability":0.5}]}`))
	}))
	defer srv.Close()

	preds, err := NewHTTP(srv.URL, time.Second).Classify(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, "hotdog", preds[0].Label)
}

func TestClassifyInvalidImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "cannot decode", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := NewHTTP(srv.URL, time.Second).Classify(context.Background(), nil)
	require.ErrorIs(t, err, ErrInvalidImage)
}

func TestClassifyUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTP(srv.URL, time.Second).Classify(context.Background(), nil)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrInvalidImage)
}
