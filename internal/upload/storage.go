package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/2beens/blogsrv/pkg"
)

// DiskURLPrefix is the path under which the router serves files of the disk storage.
const DiskURLPrefix = "/uploads/"

var ErrFileExists = errors.New("file already exists")

// Storage persists accepted uploads. Save never overwrites an existing object and
// returns the servable path of the stored file, which Remove accepts back.
type Storage interface {
	Save(ctx context.Context, dir, name, contentType string, content io.Reader) (string, error)
	Remove(ctx context.Context, storedPath string) error
}

type DiskStorage struct {
	rootPath string
}

func NewDiskStorage(rootPath string) (*DiskStorage, error) {
	if rootPath == "" {
		return nil, errors.New("uploads root path empty")
	}

	if err := os.MkdirAll(rootPath, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads root dir: %w", err)
	}

	exists, err := pkg.PathExists(rootPath, true)
	if err != nil {
		return nil, fmt.Errorf("check uploads root dir: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("uploads root dir %s not created", rootPath)
	}

	return &DiskStorage{
		rootPath: rootPath,
	}, nil
}

func (s *DiskStorage) Save(_ context.Context, dir, name, _ string, content io.Reader) (string, error) {
	dirPath := filepath.Join(s.rootPath, dir)
	if err := os.MkdirAll(dirPath, 0o755); err != nil {
		return "", fmt.Errorf("create dir %s: %w", dir, err)
	}

	filePath := filepath.Join(dirPath, name)
	f, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", ErrFileExists
		}
		return "", fmt.Errorf("create file: %w", err)
	}

	if _, err := io.Copy(f, content); err != nil {
		_ = f.Close()
		if rmErr := os.Remove(filePath); rmErr != nil {
			log.Errorf("remove partially written upload %s: %s", filePath, rmErr)
		}
		return "", fmt.Errorf("write file: %w", err)
	}

	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close file: %w", err)
	}

	return DiskURLPrefix + path.Join(dir, name), nil
}

func (s *DiskStorage) Remove(_ context.Context, storedPath string) error {
	filePath, err := s.localPath(storedPath)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

func (s *DiskStorage) localPath(storedPath string) (string, error) {
	if !strings.HasPrefix(storedPath, DiskURLPrefix) {
		return "", fmt.Errorf("path %s not in disk storage", storedPath)
	}

	rel := path.Clean("/" + strings.TrimPrefix(storedPath, DiskURLPrefix))
	if rel == "/" {
		return "", fmt.Errorf("invalid stored path %s", storedPath)
	}

	return filepath.Join(s.rootPath, filepath.FromSlash(rel)), nil
}

// Handler serves stored files, mount it under DiskURLPrefix. Directory listings are not served.
func (s *DiskStorage) Handler() http.Handler {
	fileServer := http.StripPrefix(DiskURLPrefix, http.FileServer(http.Dir(s.rootPath)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		fileServer.ServeHTTP(w, r)
	})
}
