package replay

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrNoLaunchTarget means the checkout has no recognizable way to serve it.
var ErrNoLaunchTarget = errors.New("no servable entry point in checkout")

// packageJSON is the subset of package.json the launcher cares about.
type packageJSON struct {
	Scripts map[string]string `json:"scripts"`
}

// DetectLaunchCommand inspects a checkout and returns the argv to serve it
// on port. Detection order: a package.json dev script, then a start script,
// then any static content served by staticCommand. staticCommand may contain
// the placeholder "{port}".
func DetectLaunchCommand(dir string, port int, staticCommand []string) ([]string, error) {
	pkgPath := filepath.Join(dir, "package.json")
	if data, err := os.ReadFile(pkgPath); err == nil {
		var pkg packageJSON
		if err := json.Unmarshal(data, &pkg); err == nil {
			if _, ok := pkg.Scripts["dev"]; ok {
				return []string{"npm", "run", "dev"}, nil
			}
			if _, ok := pkg.Scripts["start"]; ok {
				return []string{"npm", "start"}, nil
			}
		}
	}

	if !hasStaticContent(dir) {
		return nil, fmt.Errorf("%w: %s", ErrNoLaunchTarget, dir)
	}

	if len(staticCommand) == 0 {
		staticCommand = DefaultStaticCommand
	}
	argv := make([]string, len(staticCommand))
	for i, arg := range staticCommand {
		argv[i] = strings.ReplaceAll(arg, "{port}", strconv.Itoa(port))
	}
	return argv, nil
}

// DefaultStaticCommand serves a plain directory when no project tooling is
// detected.
var DefaultStaticCommand = []string{"python3", "-m", "http.server", "{port}"}

// hasStaticContent reports whether the checkout contains anything worth
// serving: an index.html at the root, or at least one regular file.
func hasStaticContent(dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, "index.html")); err == nil {
		return true
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.Name() == ".git" {
			continue
		}
		if !e.IsDir() {
			return true
		}
	}
	return false
}
