package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	for _, tc := range []struct {
		env   string
		debug bool
	}{
		{"local", true},
		{"production", false},
	} {
		t.Run(tc.env, func(t *testing.T) {
			l, err := New("betting-engine", tc.env)
			require.NoError(t, err)
			assert.Equal(t, tc.debug, l.Core().Enabled(zapcore.DebugLevel))
			assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
		})
	}
}
