package api

import (
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrowseDisabledByDefault(t *testing.T) {
	f := newAPIFixture(t)

	w, out := f.do(t, http.MethodGet, "/filesystem/browse", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "directory browser is disabled", out["error"])
}

func TestBrowseListsDirectoriesWithinRoots(t *testing.T) {
	f := newAPIFixture(t)
	root := t.TempDir()
	f.cfg.Server.EnableDirectoryBrowser = true
	f.cfg.Server.ProjectDirs = []string{root}

	for _, name := range []string{"alpha", "beta", ".hidden"} {
		require.NoError(t, os.Mkdir(filepath.Join(root, name), 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))

	// No path defaults to the first configured root.
	w, out := f.do(t, http.MethodGet, "/filesystem/browse", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, root, out["current_path"])
	assert.Equal(t, "", out["parent"])

	dirs := out["directories"].([]interface{})
	require.Len(t, dirs, 2)
	assert.Equal(t, "alpha", dirs[0].(map[string]interface{})["name"])
	assert.Equal(t, "beta", dirs[1].(map[string]interface{})["name"])

	q := url.Values{}
	q.Set("path", filepath.Join(root, "alpha"))
	w, out = f.do(t, http.MethodGet, "/filesystem/browse?"+q.Encode(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, root, out["parent"])
}

func TestBrowseRefusesPathsOutsideRoots(t *testing.T) {
	f := newAPIFixture(t)
	f.cfg.Server.EnableDirectoryBrowser = true
	f.cfg.Server.ProjectDirs = []string{t.TempDir()}

	w, out := f.do(t, http.MethodGet, "/filesystem/browse?path=%2Fetc", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "path is outside the configured roots", out["error"])
}

func TestBrowseUnknownPathReturns404(t *testing.T) {
	f := newAPIFixture(t)
	root := t.TempDir()
	f.cfg.Server.EnableDirectoryBrowser = true
	f.cfg.Server.ProjectDirs = []string{root}

	q := url.Values{}
	q.Set("path", filepath.Join(root, "missing"))
	w, _ := f.do(t, http.MethodGet, "/filesystem/browse?"+q.Encode(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
