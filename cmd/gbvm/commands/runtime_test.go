package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDiscoverPackages(t *testing.T) {
	root := t.TempDir()
	for _, dir := range []string{
		"alpha.gbdialog",
		"beta.gbai/beta.gbdialog",
		"notes",
	} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "stray.gbdialog"), nil, 0644))

	folders, err := discoverPackages(root)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "alpha.gbdialog"),
		filepath.Join(root, "beta.gbai", "beta.gbdialog"),
	}, folders)

	_, err = discoverPackages(filepath.Join(root, "missing"))
	assert.Error(t, err)
}

func TestBotIDFor(t *testing.T) {
	assert.Equal(t, "mybot", botIDFor("work/mybot.gbdialog"))
	assert.Equal(t, "mybot", botIDFor("work/mybot.gbdialog/"))
	assert.Equal(t, "plain", botIDFor("plain"))
}

func TestEchoDialog(t *testing.T) {
	var out bytes.Buffer
	caller := echoDialog(strings.NewReader("  Lisbon \n"), &out, zap.NewNop().Sugar())
	ctx := context.Background()

	v, err := caller.Call(ctx, "talk", map[string]any{"text": "Where to?"})
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = caller.Call(ctx, "getHear", map[string]any{"kind": "city"})
	require.NoError(t, err)
	assert.Equal(t, "Lisbon", v)

	v, err = caller.Call(ctx, "getHear", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "", v)

	assert.Equal(t, "Where to?\n> (city) > ", out.String())
}
