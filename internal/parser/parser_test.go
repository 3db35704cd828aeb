package parser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wzdavid/mineru-api/internal/domain"
)

func TestCommandParserCancellationIsNotTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewCommandParser("mineru")
	_, err := p.Parse(ctx, "in.pdf", "in.pdf", domain.ParseOptions{}, t.TempDir())

	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrTimeout)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCommandParserDeadlineIsTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	p := NewCommandParser("mineru")
	_, err := p.Parse(ctx, "in.pdf", "in.pdf", domain.ParseOptions{}, t.TempDir())

	assert.ErrorIs(t, err, domain.ErrTimeout)
}
