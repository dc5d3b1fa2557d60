package backend

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	log "github.com/sirupsen/logrus"

	"github.com/amirbrooks/tasker-engine/internal/store"
)

type randReader struct{}

func (randReader) Read(p []byte) (int, error) { return rand.Read(p) }

// File keeps the snapshot in <Root>/<Key>.<format>, replaced atomically on
// every save.
type File struct {
	Root   string
	Key    string
	Format string
	// MaxBytes caps the encoded snapshot size; zero means unlimited.
	MaxBytes int

	log log.FieldLogger
}

func NewFile(root, key, format string, logger log.FieldLogger) (*File, error) {
	f, err := NormalizeFormat(format)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("%w: root is required", store.ErrInvalid)
	}
	if strings.TrimSpace(key) == "" {
		key = DefaultKey
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &File{
		Root:   ExpandHome(root),
		Key:    key,
		Format: f,
		log:    logger.WithField("component", "backend.file"),
	}, nil
}

func (f *File) Path() string {
	return filepath.Join(f.Root, f.Key+"."+f.Format)
}

func (f *File) Load(ctx context.Context) (store.Snapshot, error) {
	b, err := os.ReadFile(f.Path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return store.DefaultSnapshot(), nil
		}
		return store.Snapshot{}, err
	}
	s, err := decode(f.Format, b)
	if err != nil {
		f.log.WithError(err).WithField("path", f.Path()).Warn("unreadable snapshot; using defaults")
		return store.DefaultSnapshot(), nil
	}
	return s, nil
}

func (f *File) Save(ctx context.Context, s store.Snapshot) error {
	b, err := encode(f.Format, s)
	if err != nil {
		return err
	}
	if f.MaxBytes > 0 && len(b) > f.MaxBytes {
		return fmt.Errorf("%w: snapshot is %d bytes, limit %d", ErrQuotaExceeded, len(b), f.MaxBytes)
	}
	return WriteFileAtomic(f.Path(), b, 0o644)
}

func (f *File) Clear(ctx context.Context) error {
	if err := os.Remove(f.Path()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// WriteFileAtomic writes data to a temp file next to path and renames it into place.
func WriteFileAtomic(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp := filepath.Join(dir, ".tmp-"+newULID())
	if err := os.WriteFile(tmp, data, perm); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	// Rename is atomic on same filesystem.
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func newULID() string {
	now := time.Now().UTC()
	id, err := ulid.New(ulid.Timestamp(now), ulid.Monotonic(randReader{}, 0))
	if err != nil {
		// fallback
		return fmt.Sprintf("%d", now.UnixNano())
	}
	return id.String()
}

func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~"+string(os.PathSeparator)) || path == "~" {
		home, _ := os.UserHomeDir()
		if home != "" {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
