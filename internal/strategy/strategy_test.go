package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lead-scanner/internal/types"
)

type stubStrategy struct{ name string }

func (s stubStrategy) Name() string                         { return s.name }
func (s stubStrategy) Detached() bool                       { return false }
func (s stubStrategy) Execute(context.Context, *Run) error { return nil }

func TestNameFor(t *testing.T) {
	tests := []struct {
		env  types.Environment
		want string
	}{
		{types.EnvConstrainedHosting, NameHTTP},
		{types.EnvInteractiveDevelopment, NameProcess},
		{types.EnvUnconstrainedLocal, NameBrowser},
	}
	for _, tt := range tests {
		got, err := NameFor(tt.env)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := NameFor(types.Environment("mainframe"))
	assert.Error(t, err)
}

func TestSelect(t *testing.T) {
	registry := Registry{
		NameHTTP:    stubStrategy{NameHTTP},
		NameBrowser: stubStrategy{NameBrowser},
	}

	s, err := Select(types.EnvConstrainedHosting, registry)
	require.NoError(t, err)
	assert.Equal(t, NameHTTP, s.Name())

	s, err = Select(types.EnvUnconstrainedLocal, registry)
	require.NoError(t, err)
	assert.Equal(t, NameBrowser, s.Name())

	_, err = Select(types.EnvInteractiveDevelopment, registry)
	assert.Error(t, err)
}
