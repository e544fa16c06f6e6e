package headless

import (
	"context"
	"net/http"
	"testing"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rfpscout/rfpscout/internal/pipeline"
)

func TestDocumentMetaCapture(t *testing.T) {
	t.Parallel()

	meta := newDocumentMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status: 200,
			URL:    "https://agency.gov/tender/123",
			Headers: network.Headers{
				"content-type": "text/html; charset=utf-8",
			},
		},
	})

	status, contentType, url := meta.snapshotWithFallbacks("https://agency.gov/seed", "")
	assert.Equal(t, 200, status)
	assert.Equal(t, "text/html; charset=utf-8", contentType)
	assert.Equal(t, "https://agency.gov/tender/123", url)
}

func TestDocumentMetaIgnoresSubresources(t *testing.T) {
	t.Parallel()

	meta := newDocumentMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		Response: &network.Response{Status: 404, URL: "https://agency.gov/logo.png"},
	})

	status, contentType, url := meta.snapshotWithFallbacks("https://agency.gov/seed", "https://agency.gov/final")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "text/html; charset=utf-8", contentType)
	assert.Equal(t, "https://agency.gov/final", url)
}

func TestDocumentMetaFallsBackToRequestURL(t *testing.T) {
	t.Parallel()

	meta := newDocumentMeta()
	_, _, url := meta.snapshotWithFallbacks("https://agency.gov/seed", "")
	assert.Equal(t, "https://agency.gov/seed", url)
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	assert.Equal(t, pipeline.FetchPermanent, classifyStatus(http.StatusNotFound).Kind)
	assert.Equal(t, pipeline.FetchPermanent, classifyStatus(http.StatusForbidden).Kind)
	assert.Equal(t, pipeline.FetchTransient, classifyStatus(http.StatusTooManyRequests).Kind)
	assert.Equal(t, pipeline.FetchTransient, classifyStatus(http.StatusBadGateway).Kind)
}

func TestAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	f := &Fetcher{limiter: make(chan struct{}, 1)}
	require.NoError(t, f.acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := f.acquire(ctx)
	require.Error(t, err)

	f.release()
	require.NoError(t, f.acquire(context.Background()))
}

func TestNewChromedpRejectsNegativeParallelism(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1})
	require.Error(t, err)
}

func TestNoopFetchIsTransient(t *testing.T) {
	t.Parallel()

	_, err := NewNoop().Fetch(context.Background(), pipeline.FetchRequest{URL: "https://agency.gov"})
	require.Error(t, err)
	assert.True(t, pipeline.IsTransientFetch(err))
}
