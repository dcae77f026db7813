package pager

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pages returns a fetch func serving the given pages with tokens "1", "2", ...
func pages(calls *int, data ...[]int) FetchFunc[int] {
	return func(ctx context.Context, token *string) ([]int, *string, error) {
		*calls++
		idx := 0
		if token != nil {
			idx = int((*token)[0] - '0')
		}
		var next *string
		if idx+1 < len(data) {
			next = aws.String(string(rune('0' + idx + 1)))
		}
		return data[idx], next, nil
	}
}

func TestSeqFollowsTokens(t *testing.T) {
	var calls int
	got, err := Collect(Seq(context.Background(), pages(&calls, []int{1, 2}, []int{}, []int{3})))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, got)
	assert.Equal(t, 3, calls)
}

func TestSeqIsRestartable(t *testing.T) {
	var calls int
	seq := Seq(context.Background(), pages(&calls, []int{1}, []int{2}))

	first, err := Collect(seq)
	require.NoError(t, err)
	second, err := Collect(seq)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 4, calls)
}

func TestSeqIsLazy(t *testing.T) {
	var calls int
	seq := Seq(context.Background(), pages(&calls, []int{1, 2}, []int{3}))
	for v, err := range seq {
		require.NoError(t, err)
		if v == 1 {
			break
		}
	}
	assert.Equal(t, 1, calls, "second page must not be fetched after break")
}

func TestSeqStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	fetch := func(ctx context.Context, token *string) ([]string, *string, error) {
		calls++
		if token == nil {
			return []string{"a"}, aws.String("t1"), nil
		}
		return nil, nil, boom
	}

	got, err := Collect(Seq(context.Background(), fetch))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a"}, got)
	assert.Equal(t, 2, calls)
}

func TestSeqStopsOnRepeatedToken(t *testing.T) {
	calls := 0
	fetch := func(ctx context.Context, token *string) ([]string, *string, error) {
		calls++
		return []string{"x"}, aws.String("same"), nil
	}

	got, err := Collect(Seq(context.Background(), fetch))
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 2, calls)
}

func TestSeqEmptyToken(t *testing.T) {
	fetch := func(ctx context.Context, token *string) ([]string, *string, error) {
		return []string{"only"}, aws.String(""), nil
	}
	got, err := Collect(Seq(context.Background(), fetch))
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, got)
}
