package publish

import (
	"context"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// fileProvider mirrors uploads into a local directory named by Bucket. It serves
// shared network mounts and tests.
type fileProvider struct {
	cfg  Config
	root string
}

func newFileProvider(cfg Config) (Provider, error) {
	root, err := filepath.Abs(cfg.Bucket)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &fileProvider{cfg: cfg, root: root}, nil
}

func (p *fileProvider) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	remotePrefix := ResolveKey(p.cfg.Prefix, prefix)

	var objects []ObjectInfo
	err := filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(p.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, remotePrefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, ObjectInfo{Key: key, Size: info.Size(), LastModified: info.ModTime()})
		return nil
	})
	return objects, err
}

func (p *fileProvider) Upload(ctx context.Context, key string, localPath string) (ObjectInfo, error) {
	remoteKey := ResolveKey(p.cfg.Prefix, key)
	dst := filepath.Join(p.root, filepath.FromSlash(remoteKey))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return ObjectInfo{}, err
	}

	in, err := os.Open(localPath)
	if err != nil {
		return ObjectInfo{}, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return ObjectInfo{}, err
	}
	written, err := io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return ObjectInfo{}, err
	}
	return ObjectInfo{Key: remoteKey, Size: written}, nil
}

func (p *fileProvider) Close() error {
	return nil
}

func contentType(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "application/octet-stream"
}
