// Package artifacts persists generated binary outputs under the content
// directory and maps them to served URLs.
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Saved describes a persisted artifact.
type Saved struct {
	Filename string
	Path     string
	URL      string
}

// Store writes artifacts under a content directory. Files are write-once:
// every save gets a fresh UUID-suffixed name, nothing is ever overwritten.
type Store struct {
	dir     string
	baseURL string
}

// NewStore creates the content directory if needed and returns a store whose
// saved artifacts are served under baseURL + "/content/".
func NewStore(dir, baseURL string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create content dir %s: %w", dir, err)
	}
	return &Store{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Dir returns the content directory path.
func (s *Store) Dir() string {
	return s.dir
}

// Save writes data as a new file named <kind>_<uuid>.<ext>. Kind tags the
// artifact's role ("cover", "video"); ext is the bare extension ("png").
func (s *Store) Save(data []byte, kind, ext string) (*Saved, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("refusing to save empty artifact of kind %s", kind)
	}

	filename := fmt.Sprintf("%s_%s.%s", sanitize(kind), uuid.New().String(), strings.TrimPrefix(ext, "."))
	path := filepath.Join(s.dir, filename)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact %s: %w", filename, err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write artifact %s: %w", filename, err)
	}

	return &Saved{
		Filename: filename,
		Path:     path,
		URL:      s.baseURL + "/content/" + filename,
	}, nil
}

// Open returns the on-disk path for a served artifact URL or filename, or an
// error if the file does not exist.
func (s *Store) Open(ref string) (string, error) {
	name := filepath.Base(ref)
	path := filepath.Join(s.dir, name)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("artifact %s not found: %w", name, err)
	}
	return path, nil
}

func sanitize(kind string) string {
	kind = strings.TrimSpace(strings.ToLower(kind))
	if kind == "" {
		return "artifact"
	}
	var b strings.Builder
	for _, r := range kind {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}
