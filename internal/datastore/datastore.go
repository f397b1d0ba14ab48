// Package datastore implements the Data Store: a content-addressed
// blob store keyed by the SHA-256 of its content, sharded two levels deep
// on the hash's first four hex characters (aa/bb/<sha>.bin plus a sibling
// <sha>.meta.json), with add/meta/uri/gc/del operations and an
// expire-then-evict-oldest GC order. The atomic temp+rename write is
// pkg/fsutil.AtomicWrite's sibling, extended here to stream-copy and hash a
// source file instead of writing an in-memory buffer.
package datastore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	sisErrors "github.com/sysinspect/sysinspect/api/errors"
	"github.com/sysinspect/sysinspect/api/types"
	"github.com/sysinspect/sysinspect/pkg/fsutil"
)

// Meta is an alias for the wire-shaped sidecar record written alongside a
// stored blob. Its presence implies the blob file exists and its content
// hashes to SHA256.
type Meta = types.DataItem

// Options configures a Store's size and retention limits. A zero value
// (nil pointer) field means "no limit".
type Options struct {
	Root           string
	MaxItemSize    *int64
	MaxOverallSize *int64
	ExpireAfter    *int64 // seconds added to CreatedUnix to compute ExpiresUnix on add
}

// nowFn is overridable by tests so GC/expiry behavior is deterministic.
var nowFn = func() int64 { return time.Now().Unix() }

// Store is the content-addressed Data Store.
type Store struct {
	opt Options
}

// New creates (if absent) opt.Root and returns a Store rooted there.
func New(opt Options) (*Store, error) {
	if err := fsutil.LoadDir(opt.Root); err != nil {
		return nil, sisErrors.Wrap(sisErrors.CodeStorage, err)
	}
	return &Store{opt: opt}, nil
}

// Add copies srcPath into the store, rejecting non-regular files, items
// over MaxItemSize, and items that would overflow MaxOverallSize even
// after one GC pass. The blob is written via atomic temp+rename; the meta
// sidecar is written last so its presence implies a complete, verified
// blob.
func (s *Store) Add(srcPath string) (Meta, error) {
	info, err := os.Stat(srcPath)
	if err != nil {
		return Meta{}, sisErrors.Wrap(sisErrors.CodeStorage, err)
	}
	if !info.Mode().IsRegular() {
		return Meta{}, sisErrors.NewStorage("src is not a regular file")
	}

	size := info.Size()
	if s.opt.MaxItemSize != nil && size > *s.opt.MaxItemSize {
		return Meta{}, sisErrors.Newf(sisErrors.CodeStorage, "item too big: %d > %d bytes", size, *s.opt.MaxItemSize)
	}

	if s.opt.MaxOverallSize != nil {
		total, err := s.total()
		if err != nil {
			return Meta{}, sisErrors.Wrap(sisErrors.CodeStorage, err)
		}
		if total+size > *s.opt.MaxOverallSize {
			if err := s.GC(); err != nil {
				return Meta{}, sisErrors.Wrap(sisErrors.CodeStorage, err)
			}
			total2, err := s.total()
			if err != nil {
				return Meta{}, sisErrors.Wrap(sisErrors.CodeStorage, err)
			}
			if total2+size > *s.opt.MaxOverallSize {
				return Meta{}, sisErrors.Newf(sisErrors.CodeStorage, "storage full: %d+%d > %d bytes", total2, size, *s.opt.MaxOverallSize)
			}
		}
	}

	sum, err := sha256File(srcPath)
	if err != nil {
		return Meta{}, sisErrors.Wrap(sisErrors.CodeStorage, err)
	}
	dataPath, metaPath := s.shardPaths(sum)
	if err := fsutil.LoadDir(filepath.Dir(dataPath)); err != nil {
		return Meta{}, sisErrors.Wrap(sisErrors.CodeStorage, err)
	}

	if fsutil.FileExists(dataPath) {
		have, err := sha256File(dataPath)
		if err != nil {
			return Meta{}, sisErrors.Wrap(sisErrors.CodeStorage, err)
		}
		if have != sum {
			return Meta{}, sisErrors.Newf(sisErrors.CodeStorage, "store corruption: expected %s, got %s at %s", sum, have, dataPath)
		}
	} else if err := atomicCopy(srcPath, dataPath, info.Mode().Perm()); err != nil {
		return Meta{}, sisErrors.Wrap(sisErrors.CodeStorage, err)
	}

	now := nowFn()
	meta := Meta{
		SHA256:      sum,
		Size:        size,
		CreatedUnix: now,
		FName:       filepath.Base(srcPath),
		FMode:       info.Mode().Perm(),
	}
	if s.opt.ExpireAfter != nil {
		exp := now + *s.opt.ExpireAfter
		meta.ExpiresUnix = &exp
	}

	encoded, err := json.Marshal(meta)
	if err != nil {
		return Meta{}, sisErrors.Wrap(sisErrors.CodeStorage, err)
	}
	if err := fsutil.AtomicWrite(metaPath, encoded, 0644); err != nil {
		return Meta{}, sisErrors.Wrap(sisErrors.CodeStorage, err)
	}
	return meta, nil
}

// Meta returns the stored metadata for sha, and false if nothing is
// stored under that hash.
func (s *Store) Meta(sha string) (Meta, bool, error) {
	_, metaPath := s.shardPaths(sha)
	if !fsutil.FileExists(metaPath) {
		return Meta{}, false, nil
	}
	raw, err := fsutil.Cat(metaPath)
	if err != nil {
		return Meta{}, false, sisErrors.Wrap(sisErrors.CodeStorage, err)
	}
	var meta Meta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Meta{}, false, sisErrors.Wrap(sisErrors.CodeStorage, err)
	}
	return meta, true, nil
}

// URI returns the on-disk blob path for sha, for a fileserver to stream.
func (s *Store) URI(sha string) string {
	dataPath, _ := s.shardPaths(sha)
	return dataPath
}

// GC expires everything past its ExpiresUnix, then evicts the oldest item
// (by CreatedUnix) repeatedly until total size is within MaxOverallSize
// or no items remain.
func (s *Store) GC() error {
	if err := s.expire(); err != nil {
		return err
	}
	if s.opt.MaxOverallSize == nil {
		return nil
	}
	for {
		total, err := s.total()
		if err != nil {
			return err
		}
		if total <= *s.opt.MaxOverallSize {
			return nil
		}
		oldest, ok, err := s.oldest()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := s.Del(oldest.SHA256); err != nil {
			return err
		}
	}
}

// Del best-effort removes sha's blob and meta sidecar; a missing file is
// not an error.
func (s *Store) Del(sha string) error {
	dataPath, metaPath := s.shardPaths(sha)
	_ = os.Remove(metaPath)
	_ = os.Remove(dataPath)
	return nil
}

func (s *Store) expire() error {
	now := nowFn()
	metas, err := s.allMeta()
	if err != nil {
		return err
	}
	for _, m := range metas {
		if m.ExpiresUnix != nil && *m.ExpiresUnix <= now {
			if err := s.Del(m.SHA256); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) oldest() (Meta, bool, error) {
	metas, err := s.allMeta()
	if err != nil {
		return Meta{}, false, err
	}
	if len(metas) == 0 {
		return Meta{}, false, nil
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].CreatedUnix < metas[j].CreatedUnix })
	return metas[0], true, nil
}

func (s *Store) allMeta() ([]Meta, error) {
	var out []Meta
	err := filepath.Walk(s.opt.Root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}
		raw, rerr := fsutil.Cat(path)
		if rerr != nil {
			return nil
		}
		var m Meta
		if jerr := json.Unmarshal(raw, &m); jerr != nil {
			return nil
		}
		out = append(out, m)
		return nil
	})
	if err != nil {
		return nil, sisErrors.Wrap(sisErrors.CodeStorage, err)
	}
	return out, nil
}

func (s *Store) total() (int64, error) {
	var total int64
	err := filepath.Walk(s.opt.Root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || filepath.Ext(path) != ".bin" {
			return nil
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, sisErrors.Wrap(sisErrors.CodeStorage, err)
	}
	return total, nil
}

// shardPaths returns the (blob, meta) paths for sha under <root>/<aa>/<bb>/.
func (s *Store) shardPaths(sha string) (dataPath, metaPath string) {
	a, b := "xx", "yy"
	if len(sha) >= 2 {
		a = sha[0:2]
	}
	if len(sha) >= 4 {
		b = sha[2:4]
	}
	dir := filepath.Join(s.opt.Root, a, b)
	return filepath.Join(dir, sha+".bin"), filepath.Join(dir, sha+".meta.json")
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// atomicCopy streams src into a temp file beside dst, then renames over
// dst, so a reader never observes a partially-written blob.
func atomicCopy(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	dir := filepath.Dir(dst)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("copy blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
