package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, l := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if l == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(l), &m))
		out = append(out, m)
	}
	return out
}

func TestNew_LevelFollowsEnvUnlessOverridden(t *testing.T) {
	tests := []struct {
		env, level string
		debug      bool
		warnOnly   bool
	}{
		{env: "local", debug: true},
		{env: "production"},
		{env: "production", level: "debug", debug: true},
		{env: "dev", level: "WARN", warnOnly: true},
		{env: "dev", level: "bogus", debug: true},
	}
	for _, tt := range tests {
		t.Run(tt.env+"/"+tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			l := New(Options{Env: tt.env, Level: tt.level, Writer: &buf})
			ctx := context.Background()
			assert.Equal(t, tt.debug, l.Enabled(ctx, slog.LevelDebug))
			assert.Equal(t, !tt.warnOnly, l.Enabled(ctx, slog.LevelInfo))
			assert.True(t, l.Enabled(ctx, slog.LevelWarn))
		})
	}
}

func TestNew_TagsServiceAndEnv(t *testing.T) {
	var buf bytes.Buffer
	New(Options{Env: "staging", Service: "billingctl", Writer: &buf}).Info("billing sync", "billed", 3)

	got := lines(t, &buf)
	require.Len(t, got, 1)
	assert.Equal(t, "billingctl", got[0]["service"])
	assert.Equal(t, "staging", got[0]["env"])
	assert.Equal(t, float64(3), got[0]["billed"])
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel(" Warning ")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, l)

	_, err = ParseLevel("verbose")
	assert.Error(t, err)
}

func TestWithAttrs_CarriesAttributesDownTheContext(t *testing.T) {
	var buf bytes.Buffer
	ctx := With(context.Background(), New(Options{Env: "production", Writer: &buf}))
	ctx = WithAttrs(ctx, "trigger", "auto")

	From(ctx).Info("billing sync")
	got := lines(t, &buf)
	require.Len(t, got, 1)
	assert.Equal(t, "auto", got[0]["trigger"])
}

func TestFrom_FallsBackToDefault(t *testing.T) {
	assert.Same(t, slog.Default(), From(context.Background()))
}
