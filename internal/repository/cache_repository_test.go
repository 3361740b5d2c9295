package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/sma-behavior-api/pkg/errors"
)

func TestCacheRepositoryWithoutClientDegrades(t *testing.T) {
	repo := NewCacheRepository(nil, zap.NewNop())
	ctx := context.Background()

	var dest map[string]int
	require.ErrorIs(t, repo.Get(ctx, "incidents:student:student-1", &dest), appErrors.ErrCacheMiss)
	require.NoError(t, repo.Set(ctx, "incidents:student:student-1", map[string]int{"a": 1}, time.Minute))
	require.NoError(t, repo.Delete(ctx, "incidents:student:student-1"))
	require.NoError(t, repo.DeleteByPattern(ctx, "incidents:*"))
	require.NoError(t, repo.Close())
}
