package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forestshield/core/internal/errs"
)

func TestHTTPWorkerSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"count":1}`))
	}))
	defer srv.Close()

	w := NewHTTPWorker(srv.URL)
	out, err := w.Invoke(context.Background(), []byte(`{}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"count":1}`, string(out))
}

func TestHTTPWorkerServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	w := NewHTTPWorker(srv.URL)
	_, err := w.Invoke(context.Background(), []byte(`{}`))
	require.Error(t, err)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, errs.KindTransient, e.Kind)
}

func TestHTTPWorkerClientErrorIsValidation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("bad input"))
	}))
	defer srv.Close()

	w := NewHTTPWorker(srv.URL)
	_, err := w.Invoke(context.Background(), []byte(`{}`))
	require.Error(t, err)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, errs.KindValidation, e.Kind)
}
