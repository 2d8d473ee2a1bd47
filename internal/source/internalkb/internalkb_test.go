package internalkb

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repassist-ai/orchestrator/internal/domain"
)

type stubDoer struct {
	status int
	body   string
}

func (d *stubDoer) Do(req *http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: d.status,
		Body:       io.NopCloser(bytes.NewBufferString(d.body)),
	}, nil
}

func decodeFixed(results []domain.SourceResult) func([]byte, int) ([]domain.SourceResult, error) {
	return func([]byte, int) ([]domain.SourceResult, error) { return results, nil }
}

func TestSearch_NoAPIKeyYieldsUnauthorized(t *testing.T) {
	a := New("mygps", "https://kb.internal/search", "", &stubDoer{status: 200}, decodeFixed(nil))

	_, err := a.Search(context.Background(), "q", 5)
	require.Error(t, err)
	ue, ok := err.(interface{ Unauthorized() bool })
	require.True(t, ok)
	assert.True(t, ue.Unauthorized())
}

func TestSearch_RejectedCredentialsYieldUnauthorized(t *testing.T) {
	a := New("mygps", "https://kb.internal/search", "bad-key", &stubDoer{status: http.StatusForbidden}, decodeFixed(nil))

	_, err := a.Search(context.Background(), "q", 5)
	require.Error(t, err)
	_, ok := err.(interface{ Unauthorized() bool })
	assert.True(t, ok)
}

func TestSearch_DecodesResponseBody(t *testing.T) {
	want := []domain.SourceResult{{Title: "found it"}}
	a := New("mygps", "https://kb.internal/search", "good-key", &stubDoer{status: 200, body: `{}`}, decodeFixed(want))

	results, err := a.Search(context.Background(), "q", 5)
	require.NoError(t, err)
	assert.Equal(t, want, results)
}
