package fallback

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when an id resolves to no stored entry.
	ErrNotFound = errors.New("fallback entry not found")

	// ErrWriteFailed is returned when an entry cannot be written to disk.
	ErrWriteFailed = errors.New("fallback write failed")
)

// Descriptor describes a stored fallback copy. It never leaves the store's
// owner except as the opaque ServingURL.
type Descriptor struct {
	ID         string
	LocalPath  string
	Size       int64
	ServingURL string
}

// Store keeps secondary copies of video bytes on local disk, confined to a
// single root directory. Entries are addressed by generated ids only.
type Store struct {
	root   string
	logger *slog.Logger
}

// NewStore creates the storage root if needed and returns a store bound to it.
func NewStore(root string, logger *slog.Logger) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve fallback root: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create root: %v", ErrWriteFailed, err)
	}

	return &Store{root: abs, logger: logger}, nil
}

// Store writes the reader's bytes under a freshly generated id. The original
// name only contributes its extension, so clients never choose paths.
func (s *Store) Store(r io.Reader, suggestedName string) (*Descriptor, error) {
	id := uuid.New().String() + safeExt(suggestedName)
	path := filepath.Join(s.root, id)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	size, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	s.logger.Info("stored fallback copy",
		slog.String("id", id),
		slog.Int64("size", size),
	)

	return &Descriptor{
		ID:         id,
		LocalPath:  path,
		Size:       size,
		ServingURL: "/fallback/" + id,
	}, nil
}

// Stat resolves an id to its size and content type.
func (s *Store) Stat(id string) (int64, string, error) {
	path, err := s.resolve(id)
	if err != nil {
		return 0, "", err
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, "", fmt.Errorf("%w: %q", ErrNotFound, id)
		}
		return 0, "", fmt.Errorf("stat fallback entry %q: %w", id, err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(id))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return info.Size(), contentType, nil
}

// Open returns a reader over a byte window of the entry. length < 0 reads
// to the end of the file.
func (s *Store) Open(id string, offset, length int64) (io.ReadCloser, error) {
	path, err := s.resolve(id)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
		}
		return nil, fmt.Errorf("open fallback entry %q: %w", id, err)
	}

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, fmt.Errorf("seek fallback entry %q: %w", id, err)
		}
	}

	if length < 0 {
		return f, nil
	}

	return &window{Reader: io.LimitReader(f, length), file: f}, nil
}

// resolve maps an id to a path strictly inside the storage root. Ids are
// flat names; anything that would navigate the filesystem is rejected.
func (s *Store) resolve(id string) (string, error) {
	if id == "" || id != filepath.Base(id) || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("%w: %q", ErrNotFound, id)
	}

	path := filepath.Join(s.root, id)
	if !strings.HasPrefix(path, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrNotFound, id)
	}

	return path, nil
}

// safeExt keeps a short alphanumeric extension from the suggested name and
// discards everything else.
func safeExt(name string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	if len(ext) < 2 || len(ext) > 9 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

type window struct {
	io.Reader
	file *os.File
}

func (w *window) Close() error {
	return w.file.Close()
}
