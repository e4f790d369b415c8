package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"
)

func TestIsPermanent(t *testing.T) {
	assert.True(t, isPermanent(&googleapi.Error{Code: 400}))
	assert.True(t, isPermanent(fmt.Errorf("wrap: %w", &googleapi.Error{Code: 403})))
	assert.False(t, isPermanent(&googleapi.Error{Code: 429}))
	assert.False(t, isPermanent(&googleapi.Error{Code: 503}))
	assert.False(t, isPermanent(errors.New("connection reset")))
	assert.True(t, isPermanent(context.Canceled))
}

func TestRetryGeminiStopsOnPermanent(t *testing.T) {
	calls := 0
	err := retryGemini(context.Background(), 0, func() error {
		calls++
		return &googleapi.Error{Code: 400}
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestToFloat32(t *testing.T) {
	assert.Equal(t, []float32{1, 0.5}, toFloat32([]float64{1, 0.5}))
}

func TestConstructorsRequireKeys(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	_, err := NewGeminiEmbedder(context.Background(), "", "")
	assert.Error(t, err)

	_, err = NewOpenAIEmbedder("", "", 0)
	assert.Error(t, err)
}
