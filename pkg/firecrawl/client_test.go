package firecrawl

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-enricher/internal/resilience"
)

func TestScrape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/scrape", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req ScrapeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://hp.com/cf259x", req.URL)

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"success":true,"data":{"url":"https://hp.com/cf259x","markdown":"# CF259X","title":"CF259X","statusCode":200}}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL), WithRPS(100))
	resp, err := c.Scrape(context.Background(), ScrapeRequest{URL: "https://hp.com/cf259x", Formats: []string{"markdown"}})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "# CF259X", resp.Data.Markdown)
}

func TestScrape_TransientStatusTagged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL), WithRPS(100))
	_, err := c.Scrape(context.Background(), ScrapeRequest{URL: "https://hp.com/cf259x"})
	require.Error(t, err)

	var te *resilience.TransientError
	require.True(t, errors.As(err, &te), "429 must be tagged transient")
	assert.Equal(t, http.StatusTooManyRequests, te.StatusCode)

	var apiErr *APIError
	assert.True(t, errors.As(err, &apiErr))
}

func TestScrape_PermanentStatusNotTagged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient("bad-key", WithBaseURL(srv.URL), WithRPS(100))
	_, err := c.Scrape(context.Background(), ScrapeRequest{URL: "https://hp.com/cf259x"})
	require.Error(t, err)

	var te *resilience.TransientError
	assert.False(t, errors.As(err, &te), "403 is permanent")
}

func TestBatchScrapeAndStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/batch/scrape":
			w.Write([]byte(`{"success":true,"id":"batch-1"}`)) //nolint:errcheck
		case r.Method == http.MethodGet && r.URL.Path == "/batch/scrape/batch-1":
			w.Write([]byte(`{"status":"completed","total":2,"data":[{"url":"https://a.com"},{"url":"https://b.com"}]}`)) //nolint:errcheck
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL), WithRPS(100))

	started, err := c.BatchScrape(context.Background(), BatchScrapeRequest{URLs: []string{"https://a.com", "https://b.com"}})
	require.NoError(t, err)
	assert.Equal(t, "batch-1", started.ID)

	status, err := c.GetBatchScrapeStatus(context.Background(), started.ID)
	require.NoError(t, err)
	assert.Equal(t, "completed", status.Status)
	assert.Len(t, status.Data, 2)
}

// pollClient returns scraping for the first n status calls, then completed.
type pollClient struct {
	remaining int
	calls     int
	fail      bool
}

func (p *pollClient) Scrape(context.Context, ScrapeRequest) (*ScrapeResponse, error) {
	return nil, errors.New("not implemented")
}

func (p *pollClient) BatchScrape(context.Context, BatchScrapeRequest) (*BatchScrapeResponse, error) {
	return &BatchScrapeResponse{Success: true, ID: "batch-1"}, nil
}

func (p *pollClient) GetBatchScrapeStatus(context.Context, string) (*BatchScrapeStatusResponse, error) {
	p.calls++
	if p.calls <= p.remaining {
		return &BatchScrapeStatusResponse{Status: "scraping"}, nil
	}
	if p.fail {
		return &BatchScrapeStatusResponse{Status: "failed"}, nil
	}
	return &BatchScrapeStatusResponse{Status: "completed", Total: 1}, nil
}

func TestPollBatchScrape(t *testing.T) {
	pc := &pollClient{remaining: 2}
	status, err := PollBatchScrape(context.Background(), pc, "batch-1", WithPollInterval(time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, "completed", status.Status)
	assert.Equal(t, 3, pc.calls)
}

func TestPollBatchScrape_Failed(t *testing.T) {
	pc := &pollClient{fail: true}
	_, err := PollBatchScrape(context.Background(), pc, "batch-1", WithPollInterval(time.Millisecond))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")
}

func TestPollBatchScrape_Timeout(t *testing.T) {
	pc := &pollClient{remaining: 1 << 30}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := PollBatchScrape(ctx, pc, "batch-1", WithPollInterval(5*time.Millisecond), WithPollCap(5*time.Millisecond))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
