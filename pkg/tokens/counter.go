package tokens

import (
	"context"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/compozy/codebook/pkg/logger"
)

const defaultEncoding = "cl100k_base"

// Counter counts tokens in a text.
type Counter interface {
	CountTokens(ctx context.Context, text string) (int, error)
}

// TiktokenCounter counts tokens with a tiktoken BPE encoding.
type TiktokenCounter struct {
	encodingName string
	tke          *tiktoken.Tiktoken
}

// NewTiktokenCounter resolves modelOrEncoding first as an encoding name,
// then as a model name, and finally falls back to cl100k_base.
func NewTiktokenCounter(modelOrEncoding string) (*TiktokenCounter, error) {
	if modelOrEncoding == "" {
		modelOrEncoding = defaultEncoding
	}
	encodingName := modelOrEncoding
	tke, err := tiktoken.GetEncoding(modelOrEncoding)
	if err != nil {
		tke, err = tiktoken.EncodingForModel(modelOrEncoding)
		if err != nil {
			tke, err = tiktoken.GetEncoding(defaultEncoding)
			if err != nil {
				return nil, fmt.Errorf("failed to get default encoding '%s': %w", defaultEncoding, err)
			}
		}
		encodingName = defaultEncoding
	}
	return &TiktokenCounter{encodingName: encodingName, tke: tke}, nil
}

func (tc *TiktokenCounter) CountTokens(_ context.Context, text string) (int, error) {
	if tc.tke == nil {
		return 0, fmt.Errorf("tiktoken encoder is not initialized for encoding %s", tc.encodingName)
	}
	return len(tc.tke.Encode(text, nil, nil)), nil
}

func (tc *TiktokenCounter) Encoding() string {
	return tc.encodingName
}

// Estimate approximates the token count as one token per four characters.
func Estimate(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

// Count uses counter when available and falls back to Estimate.
func Count(ctx context.Context, counter Counter, text string) int {
	if counter == nil {
		return Estimate(text)
	}
	n, err := counter.CountTokens(ctx, text)
	if err != nil {
		logger.FromContext(ctx).Debug("token count failed, using estimate", "error", err)
		return Estimate(text)
	}
	return n
}

var (
	defaultOnce    sync.Once
	defaultCounter Counter
)

// Default returns a shared cl100k_base counter, or nil when the encoding
// cannot be loaded. Callers pass the result to Count.
func Default(ctx context.Context) Counter {
	defaultOnce.Do(func() {
		tc, err := NewTiktokenCounter(defaultEncoding)
		if err != nil {
			logger.FromContext(ctx).Warn("tiktoken unavailable, token counts are estimated", "error", err)
			return
		}
		defaultCounter = tc
	})
	return defaultCounter
}
