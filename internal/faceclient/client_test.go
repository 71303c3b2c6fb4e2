package faceclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/verify", r.URL.Path)
		var in map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "S1", in["user_id"])
		assert.Equal(t, "https://img/1.jpg", in["image_url"])
		_ = json.NewEncoder(w).Encode(map[string]any{
			"user_id": "S1", "verified": true, "similarity": 0.7, "threshold": 0.55,
		})
	}))
	defer srv.Close()

	res, err := New(srv.URL, false).Verify(context.Background(), "S1", "https://img/1.jpg")
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.InDelta(t, 0.3, res.Distance(), 1e-9)
}

func TestVerifyServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no face", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := New(srv.URL, false).Verify(context.Background(), "S1", "https://img/1.jpg")
	assert.ErrorContains(t, err, "no face")
}

func TestVerifyRequiresInput(t *testing.T) {
	_, err := New("http://unused", false).Verify(context.Background(), "S1", "")
	assert.Error(t, err)
}

func TestSkipMode(t *testing.T) {
	c := New("http://unused", true)
	require.NoError(t, c.Health(context.Background()))
	res, err := c.Verify(context.Background(), "S1", "")
	require.NoError(t, err)
	assert.True(t, res.Verified)
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	assert.ErrorContains(t, New(srv.URL, false).Health(context.Background()), "unhealthy")
}

func TestDistanceNeverNegative(t *testing.T) {
	assert.Equal(t, 0.0, (&VerifyResult{Similarity: 1.2}).Distance())
}
