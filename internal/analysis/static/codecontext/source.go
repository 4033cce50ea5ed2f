// internal/analysis/static/codecontext/source.go
package codecontext

import (
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// SourceReader loads contract source text on a best-effort basis. Any failure
// (missing file, directory, oversized file, read error) yields ok=false and
// is logged at debug level only. Results, including misses, are cached for the
// reader's lifetime, so one reader should span a single correlation pass.
type SourceReader struct {
	fs       afero.Fs
	root     string
	maxBytes int64
	logger   *zap.Logger
	cache    map[string]cachedSource
}

type cachedSource struct {
	text string
	ok   bool
}

// NewSourceReader creates a reader. Relative paths are resolved against root.
func NewSourceReader(fs afero.Fs, root string, maxBytes int64, logger *zap.Logger) *SourceReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SourceReader{
		fs:       fs,
		root:     root,
		maxBytes: maxBytes,
		logger:   logger,
		cache:    make(map[string]cachedSource),
	}
}

// Read returns the text of file.
func (r *SourceReader) Read(file string) (string, bool) {
	file = strings.TrimSpace(file)
	if file == "" || r.fs == nil {
		return "", false
	}
	p := r.resolve(file)
	if c, hit := r.cache[p]; hit {
		return c.text, c.ok
	}

	text, ok := r.load(p)
	r.cache[p] = cachedSource{text: text, ok: ok}
	return text, ok
}

func (r *SourceReader) resolve(file string) string {
	file = filepath.FromSlash(strings.ReplaceAll(file, "\\", "/"))
	if filepath.IsAbs(file) || r.root == "" {
		return filepath.Clean(file)
	}
	return filepath.Join(r.root, file)
}

func (r *SourceReader) load(p string) (string, bool) {
	info, err := r.fs.Stat(p)
	if err != nil {
		r.logger.Debug("Source unavailable, signals default to absent.", zap.String("path", p), zap.Error(err))
		return "", false
	}
	if info.IsDir() {
		return "", false
	}
	if r.maxBytes > 0 && info.Size() > r.maxBytes {
		r.logger.Debug("Source exceeds size limit, skipping.",
			zap.String("path", p), zap.Int64("size", info.Size()), zap.Int64("limit", r.maxBytes))
		return "", false
	}
	data, err := afero.ReadFile(r.fs, p)
	if err != nil {
		r.logger.Debug("Failed to read source.", zap.String("path", p), zap.Error(err))
		return "", false
	}
	return string(data), true
}
