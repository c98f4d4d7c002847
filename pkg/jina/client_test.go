package jina

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-enricher/internal/resilience"
)

func TestRead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "markdown", r.Header.Get("X-Return-Format"))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"code":200,"data":{"title":"CF259X Specs","url":"https://hp.com/cf259x","content":"# Toner","usage":{"tokens":120}}}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL), WithRPS(100))
	resp, err := c.Read(context.Background(), "https://hp.com/cf259x")
	require.NoError(t, err)
	assert.Equal(t, "CF259X Specs", resp.Data.Title)
	assert.Equal(t, 120, resp.Data.Usage.Tokens)
}

func TestRead_TransientStatusTagged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL), WithRPS(100))
	_, err := c.Read(context.Background(), "https://hp.com/cf259x")
	require.Error(t, err)

	var te *resilience.TransientError
	require.True(t, errors.As(err, &te), "5xx must be tagged transient")
	assert.Equal(t, http.StatusServiceUnavailable, te.StatusCode)
}

func TestRead_PermanentStatusNotTagged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient("bad-key", WithBaseURL(srv.URL), WithRPS(100))
	_, err := c.Read(context.Background(), "https://hp.com/cf259x")
	require.Error(t, err)

	var te *resilience.TransientError
	assert.False(t, errors.As(err, &te), "401 is permanent")
}

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.RawQuery, "site=hp.com")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"code":200,"data":[{"title":"CF259X","url":"https://hp.com/cf259x"}]}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := NewClient("test-key", WithSearchBaseURL(srv.URL), WithRPS(100))
	resp, err := c.Search(context.Background(), "HP CF259X specs", WithSiteFilter("hp.com"))
	require.NoError(t, err)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "https://hp.com/cf259x", resp.Data[0].URL)
}

func TestSearch_NoResultsIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewClient("test-key", WithSearchBaseURL(srv.URL), WithRPS(100))
	resp, err := c.Search(context.Background(), "nonexistent part number")
	require.NoError(t, err)
	assert.Empty(t, resp.Data)
}
