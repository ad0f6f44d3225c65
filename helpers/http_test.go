package helpers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write([]byte(`{"lastUpdateId": 42}`))
		case "/busy":
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"msg":"slow down"}`))
		default:
			_, _ = w.Write([]byte(`not json`))
		}
	}))
	defer srv.Close()

	var out struct {
		LastUpdateID int64 `json:"lastUpdateId"`
	}
	require.NoError(t, GetJSON(context.Background(), srv.Client(), srv.URL+"/ok", &out))
	assert.Equal(t, int64(42), out.LastUpdateID)

	err := GetJSON(context.Background(), srv.Client(), srv.URL+"/busy", &out)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)

	assert.Error(t, GetJSON(context.Background(), srv.Client(), srv.URL+"/garbage", &out))
}
