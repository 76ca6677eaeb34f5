package api

import (
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
)

type directoryEntry struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// browseFilesystem lists subdirectories for the project picker. Disabled
// unless explicitly enabled; when roots are configured, browsing cannot
// leave them.
func (h *Handlers) browseFilesystem(c *gin.Context) {
	if !h.cfg.Server.EnableDirectoryBrowser {
		c.JSON(http.StatusForbidden, gin.H{"error": "directory browser is disabled"})
		return
	}

	path := c.Query("path")
	if path == "" {
		if len(h.cfg.Server.ProjectDirs) > 0 {
			path = h.cfg.Server.ProjectDirs[0]
		} else if home, err := os.UserHomeDir(); err == nil {
			path = home
		} else {
			path = "/"
		}
	}
	path = filepath.Clean(path)

	if !h.browseAllowed(path) {
		c.JSON(http.StatusForbidden, gin.H{"error": "path is outside the configured roots"})
		return
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		c.JSON(http.StatusNotFound, gin.H{"error": "path not found: " + path})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !info.IsDir() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "not a directory: " + path})
		return
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	dirs := make([]directoryEntry, 0)
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		dirs = append(dirs, directoryEntry{
			Name: entry.Name(),
			Path: filepath.Join(path, entry.Name()),
		})
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].Name < dirs[j].Name })

	var parent string
	if p := filepath.Dir(path); p != path && h.browseAllowed(p) {
		parent = p
	}

	c.JSON(http.StatusOK, gin.H{
		"current_path": path,
		"parent":       parent,
		"directories":  dirs,
		"roots":        h.cfg.Server.ProjectDirs,
	})
}

func (h *Handlers) browseAllowed(path string) bool {
	if len(h.cfg.Server.ProjectDirs) == 0 {
		return true
	}
	clean := filepath.Clean(path)
	for _, root := range h.cfg.Server.ProjectDirs {
		root = filepath.Clean(root)
		if clean == root || strings.HasPrefix(clean, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
