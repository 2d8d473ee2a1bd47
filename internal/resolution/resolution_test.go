package resolution

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repassist-ai/orchestrator/internal/domain"
	"github.com/repassist-ai/orchestrator/internal/model"
)

type fakeClient struct {
	resp *model.Response
	err  error
	req  *model.Request
}

func (f *fakeClient) Complete(_ context.Context, req *model.Request) (*model.Response, error) {
	f.req = req
	return f.resp, f.err
}

var sampleSources = []domain.SourceResult{
	{Title: "2FA reset", CanonicalURL: "https://support.example/2fa", Snippet: "To reset 2FA..."},
}

func TestGenerate_ReturnsNoSourcesWhenEmpty(t *testing.T) {
	g := New(&fakeClient{}, "default")
	_, err := g.Generate(context.Background(), "q", nil, nil)
	assert.ErrorIs(t, err, ErrNoSources)
}

func TestGenerate_ParsesResolutionAndCitations(t *testing.T) {
	fc := &fakeClient{resp: &model.Response{Text: `{"resolution_text":"Reset your device. [Source: https://support.example/2fa]","citations":[{"label":"2FA reset","url":"https://support.example/2fa"}]}`}}
	g := New(fc, "default")

	result, err := g.Generate(context.Background(), "q", sampleSources, nil)
	require.NoError(t, err)
	assert.Contains(t, result.Text, "[Source: https://support.example/2fa]")
	require.Len(t, result.Citations, 1)
	assert.Equal(t, "https://support.example/2fa", result.Citations[0].URL)
}

func TestGenerate_IncludesPriorFeedbackInPrompt(t *testing.T) {
	fc := &fakeClient{resp: &model.Response{Text: `{"resolution_text":"ok [Source: https://support.example/2fa]","citations":[]}`}}
	g := New(fc, "default")

	_, err := g.Generate(context.Background(), "q", sampleSources, []string{"too vague, add more detail"})
	require.NoError(t, err)
	assert.Contains(t, fc.req.Prompt, "too vague, add more detail")
}

func TestValidateCitations_DiscardsFabricatedURL(t *testing.T) {
	result := &Result{
		Text: "See here. [Source: https://evil.example/fake]",
		Citations: []domain.Citation{
			{Label: "fake", URL: "https://evil.example/fake"},
		},
	}
	valid, discarded := ValidateCitations(result, sampleSources)
	assert.Empty(t, valid)
	assert.True(t, discarded)
}

func TestValidateCitations_DiscardsCitationMissingInlineMarker(t *testing.T) {
	result := &Result{
		Text: "No inline marker here at all.",
		Citations: []domain.Citation{
			{Label: "2FA reset", URL: "https://support.example/2fa"},
		},
	}
	valid, discarded := ValidateCitations(result, sampleSources)
	assert.Empty(t, valid)
	assert.True(t, discarded)
}

func TestValidateCitations_KeepsValidCitation(t *testing.T) {
	result := &Result{
		Text: "Reset here. [Source: https://support.example/2fa]",
		Citations: []domain.Citation{
			{Label: "2FA reset", URL: "https://support.example/2fa"},
		},
	}
	valid, discarded := ValidateCitations(result, sampleSources)
	require.Len(t, valid, 1)
	assert.False(t, discarded)
}

func TestGenerate_WrapsModelError(t *testing.T) {
	fc := &fakeClient{err: assertError{}}
	g := New(fc, "default")
	_, err := g.Generate(context.Background(), "q", sampleSources, nil)
	assert.Error(t, err)
}

type assertError struct{}

func (assertError) Error() string { return "model unavailable" }
