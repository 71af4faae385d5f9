package fragment

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tanq16/extdl/internal/utils"
)

// WriteURLList writes the fragment manifest consumed by segmented backends:
// one "<url>\n\tout=<fragment file>" entry per fragment. Fragment file names
// are relative to the temp file's directory.
func WriteURLList(tempPath string, fragments []utils.Fragment) (string, error) {
	base := filepath.Base(tempPath)
	entries := make([]string, 0, len(fragments))
	for _, frag := range fragments {
		entries = append(entries, fmt.Sprintf("%s\n\tout=%s", frag.URL, utils.FragmentPath(base, frag.Index)))
	}
	path := utils.URLListPath(tempPath)
	if err := os.WriteFile(path, []byte(strings.Join(entries, "\n")), 0644); err != nil {
		return "", fmt.Errorf("error writing fragment url list: %v", err)
	}
	return path, nil
}
