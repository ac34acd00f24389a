package client

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"docdelta/internal/api"
	"docdelta/internal/config"
	"docdelta/internal/errors"
	"docdelta/internal/impact"
	"docdelta/internal/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientAgainstServer(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.py"), []byte("print(1)\n"), 0644))

	cfg := config.Default()
	cfg.Root = root
	p, err := pipeline.New(cfg, nil)
	require.NoError(t, err)
	defer p.Close()

	srv := httptest.NewServer(api.Routes(api.NewHandler(p, p.Store, nil), nil, nil))
	defer srv.Close()
	c := New(srv.URL + "/")

	require.NoError(t, c.Health(ctx))

	est, err := c.Estimate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, est.Result.SumFileTokens)

	_, err = c.State(ctx)
	assert.ErrorIs(t, err, &errors.Error{Type: errors.ErrorTypeNotFound})

	plan, err := c.Plan(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, impact.StrategyFull, plan.Impact.Strategy)

	rep, err := c.Run(ctx, nil, false)
	require.NoError(t, err)
	assert.Equal(t, pipeline.RunOK, rep.Status)

	s, err := c.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"main.py"}, s.Paths())

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Changes.Empty())

	_, err = c.History(ctx)
	assert.ErrorIs(t, err, &errors.Error{Type: errors.ErrorTypeNotFound}, "file backend keeps no history")
}
