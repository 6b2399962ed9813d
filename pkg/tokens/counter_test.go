package tokens

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fixedCounter struct {
	n   int
	err error
}

func (f fixedCounter) CountTokens(context.Context, string) (int, error) {
	return f.n, f.err
}

func TestEstimate(t *testing.T) {
	t.Run("Should return zero for empty text", func(t *testing.T) {
		assert.Equal(t, 0, Estimate(""))
	})
	t.Run("Should round up to whole tokens", func(t *testing.T) {
		assert.Equal(t, 1, Estimate("abc"))
		assert.Equal(t, 2, Estimate("abcde"))
	})
	t.Run("Should count runes rather than bytes", func(t *testing.T) {
		assert.Equal(t, 1, Estimate("å—å—"))
	})
}

func TestCount(t *testing.T) {
	ctx := context.Background()
	t.Run("Should use the counter when it succeeds", func(t *testing.T) {
		assert.Equal(t, 42, Count(ctx, fixedCounter{n: 42}, "text"))
	})
	t.Run("Should fall back to the estimate when the counter fails", func(t *testing.T) {
		assert.Equal(t, 2, Count(ctx, fixedCounter{err: errors.New("boom")}, "12345678"))
	})
	t.Run("Should estimate without a counter", func(t *testing.T) {
		assert.Equal(t, 2, Count(ctx, nil, "12345678"))
	})
}
