package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerverless/coordinator/internal/catalog"
	"github.com/zerverless/coordinator/internal/config"
)

func TestCatalogCmd_Default(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"catalog"})

	require.NoError(t, root.Execute())

	cat, err := catalog.Parse(out.Bytes())
	require.NoError(t, err)
	assert.Equal(t, catalog.Default().IDs(), cat.IDs())
}

func TestCatalogCmd_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("job_types: []\n"), 0644))

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"catalog", "--file", path})

	assert.Error(t, root.Execute())
}

func TestWorkerCmd_RequiresURL(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"worker"})

	assert.Error(t, root.Execute())
}

func TestSetupLogging(t *testing.T) {
	assert.NoError(t, setupLogging("debug"))
	assert.NoError(t, setupLogging(""))
	assert.Error(t, setupLogging("loud"))
}

func TestLoadCatalog_Sources(t *testing.T) {
	cat, err := loadCatalog(&config.Config{})
	require.NoError(t, err)
	assert.Equal(t, catalog.Default().IDs(), cat.IDs())

	_, err = loadCatalog(&config.Config{CatalogPath: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)

	_, err = loadCatalog(&config.Config{
		CatalogGitURL: filepath.Join(t.TempDir(), "not-a-repo"),
		DataDir:       t.TempDir(),
	})
	assert.Error(t, err)
}
