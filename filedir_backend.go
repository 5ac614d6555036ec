package persidict

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FileDirBackend implements PersiDict over the local filesystem. Each
// item is one file; a SafeKey's non-terminal components become nested
// directories and the terminal component (digest-suffixed if configured)
// becomes the filename, with the codec's extension appended (spec.md
// §4.3, §6 "On-disk layout").
type FileDirBackend struct {
	baseDir string
	codec   Codec
	cfg     Config
	locks   *StripedLocks
}

// NewFileDirBackend creates a filesystem-backed PersiDict rooted at
// baseDir, which is created if it does not already exist.
func NewFileDirBackend(baseDir string, codec Codec, cfg Config) (*FileDirBackend, error) {
	if err := os.MkdirAll(baseDir, DefaultDirPermissions); err != nil {
		return nil, &BackendFailure{Backend: "filedir", Op: "NewFileDirBackend", Cause: err}
	}
	return &FileDirBackend{
		baseDir: baseDir,
		codec:   codec,
		cfg:     cfg,
		locks:   NewStripedLocks(DefaultStripes),
	}, nil
}

func (b *FileDirBackend) Config() Config { return b.cfg }
func (b *FileDirBackend) Close() error   { return nil }

// LockContention returns how many per-key lock acquisitions had to wait
// on an already-held stripe, for callers sizing DefaultStripes against
// their own access pattern.
func (b *FileDirBackend) LockContention() uint64 { return b.locks.Contention() }

// path renders key to its on-disk path, applying digest suffixing to
// every component.
func (b *FileDirBackend) path(key SafeKey) string {
	parts := make([]string, len(key)+1)
	parts[0] = b.baseDir
	for i, c := range key {
		parts[i+1] = renderComponent(c, b.cfg.DigestLen)
	}
	last := len(parts) - 1
	parts[last] = parts[last] + "." + b.codec.Ext()
	return filepath.Join(parts...)
}

// statETag derives the spec's "mtime_ns:size:inode" ETag from a file's
// stat result. Atomic rename replaces the inode on every write, so the
// ETag changes even at coarse mtime resolution; size+mtime are the
// fallback on platforms where the inode assertion fails (spec.md §4.3).
func statETag(info os.FileInfo) string {
	var inode uint64
	if sys := info.Sys(); sys != nil {
		inode = statInode(sys)
	}
	return fmt.Sprintf("%d:%d:%d", info.ModTime().UnixNano(), info.Size(), inode)
}

func (b *FileDirBackend) currentETag(path string) (any, os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ItemNotAvailable, nil, nil
		}
		return nil, nil, &BackendFailure{Backend: "filedir", Op: "stat", Key: path, Cause: err}
	}
	return statETag(info), info, nil
}

func (b *FileDirBackend) readValue(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ItemNotAvailable, nil
		}
		return nil, &BackendFailure{Backend: "filedir", Op: "read", Key: path, Cause: err}
	}
	v, err := b.codec.Decode(data)
	if err != nil {
		return nil, &BackendFailure{Backend: "filedir", Op: "decode", Key: path, Cause: err}
	}
	return v, nil
}

// atomicWrite materializes data to a temporary sibling file (named with a
// random UUID suffix so concurrent writers never collide on the temp name)
// then renames it onto target, guaranteeing readers see a whole old or
// whole new file (spec.md §4.3, "Atomic replace"). Transient rename
// failures (e.g. antivirus holding a handle open on Windows) are retried
// with bounded backoff.
func (b *FileDirBackend) atomicWrite(target string, data []byte) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		return &BackendFailure{Backend: "filedir", Op: "mkdir", Key: target, Cause: err}
	}

	tmp := filepath.Join(dir, "."+filepath.Base(target)+".tmp-"+uuid.NewString())
	if err := os.WriteFile(tmp, data, DefaultFilePermissions); err != nil {
		return &BackendFailure{Backend: "filedir", Op: "write-temp", Key: target, Cause: err}
	}

	syncDir(dir)

	retry := DefaultRetryConfig()
	var lastErr error
	for attempt := 0; attempt <= retry.MaxRetries; attempt++ {
		if err := os.Rename(tmp, target); err != nil {
			lastErr = err
			if !isTransientRenameErr(err) || attempt == retry.MaxRetries {
				os.Remove(tmp)
				return &BackendFailure{Backend: "filedir", Op: "rename", Key: target, Cause: err}
			}
			time.Sleep(retry.Backoff(attempt))
			continue
		}
		syncDir(dir)
		return nil
	}
	return &BackendFailure{Backend: "filedir", Op: "rename", Key: target, Cause: lastErr}
}

// syncDir attempts to fsync the containing directory so the rename is
// durable, best-effort: failures are ignored per spec.md §4.3.
func syncDir(dir string) {
	f, err := os.Open(dir)
	if err != nil {
		return
	}
	defer f.Close()
	_ = f.Sync()
}

func isTransientRenameErr(err error) bool {
	return errors.Is(err, fs.ErrPermission) || errors.Is(err, os.ErrExist)
}

func (b *FileDirBackend) GetItemIf(ctx context.Context, key SafeKey, expected any, condition ETagCondition, retrieve RetrieveMode) (ConditionalResult, error) {
	path := b.path(key)

	unlock := b.locks.RLockKey(key)
	defer unlock()

	actual, _, err := b.currentETag(path)
	if err != nil {
		return ConditionalResult{}, err
	}
	satisfied := satisfiesCondition(condition, expected, actual)

	if IsItemNotAvailable(actual) {
		return ConditionalResult{
			ConditionWasSatisfied: satisfied,
			ActualETag:            ItemNotAvailable,
			ResultingETag:         ItemNotAvailable,
			NewValue:              ItemNotAvailable,
		}, nil
	}

	newValue := any(ValueNotRetrieved)
	if shouldRetrieve(retrieve, !etagEqual(expected, actual)) {
		v, err := b.readValue(path)
		if err != nil {
			return ConditionalResult{}, err
		}
		newValue = v
	}

	return ConditionalResult{
		ConditionWasSatisfied: satisfied,
		ActualETag:            actual,
		ResultingETag:         actual,
		NewValue:              newValue,
	}, nil
}

// SetItemIf implements the conditional write via check-then-act: this is
// deliberately NOT atomic across processes (advisory OS locks are not
// reliably propagated by shared-folder sync services); within this
// process the per-path stripe serializes the window. Cross-process
// callers needing true atomicity should use the S3 backend, or compose
// this backend with the coordination package (spec.md §4.3, §5).
func (b *FileDirBackend) SetItemIf(ctx context.Context, key SafeKey, value any, expected any, condition ETagCondition) (ConditionalResult, error) {
	if !IsKeepCurrent(value) && !IsDeleteCurrent(value) {
		if err := b.cfg.validateValue(value); err != nil {
			return ConditionalResult{}, err
		}
	}

	path := b.path(key)
	unlock := b.locks.LockKey(key)
	defer unlock()

	actual, _, err := b.currentETag(path)
	if err != nil {
		return ConditionalResult{}, err
	}
	exists := !IsItemNotAvailable(actual)
	satisfied := satisfiesCondition(condition, expected, actual)

	if !satisfied {
		return ConditionalResult{
			ConditionWasSatisfied: false,
			ActualETag:            actual,
			ResultingETag:         actual,
			NewValue:              notRetrievedOrAbsent(exists),
		}, nil
	}

	if IsKeepCurrent(value) {
		return ConditionalResult{
			ConditionWasSatisfied: true,
			ActualETag:            actual,
			ResultingETag:         actual,
			NewValue:              notRetrievedOrAbsent(exists),
		}, nil
	}

	if IsDeleteCurrent(value) {
		if err := enforceWritePolicy(b.cfg, key, exists, true); err != nil {
			return ConditionalResult{}, err
		}
		if exists {
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return ConditionalResult{}, &BackendFailure{Backend: "filedir", Op: "remove", Key: path, Cause: err}
			}
		}
		return ConditionalResult{
			ConditionWasSatisfied: true,
			ActualETag:            actual,
			ResultingETag:         ItemNotAvailable,
			NewValue:              ItemNotAvailable,
		}, nil
	}

	if err := enforceWritePolicy(b.cfg, key, exists, false); err != nil {
		return ConditionalResult{}, err
	}

	data, err := b.codec.Encode(value)
	if err != nil {
		return ConditionalResult{}, &BackendFailure{Backend: "filedir", Op: "encode", Key: path, Cause: err}
	}
	if err := b.atomicWrite(path, data); err != nil {
		return ConditionalResult{}, err
	}
	newETag, _, err := b.currentETag(path)
	if err != nil {
		return ConditionalResult{}, err
	}

	return ConditionalResult{
		ConditionWasSatisfied: true,
		ActualETag:            actual,
		ResultingETag:         newETag,
		NewValue:              value,
	}, nil
}

func (b *FileDirBackend) SetDefaultIf(ctx context.Context, key SafeKey, defaultValue any, expected any, condition ETagCondition) (ConditionalResult, error) {
	if err := rejectJokerDefault(defaultValue); err != nil {
		return ConditionalResult{}, err
	}

	path := b.path(key)
	unlock := b.locks.RLockKey(key)
	actual, _, err := b.currentETag(path)
	if err != nil {
		unlock()
		return ConditionalResult{}, err
	}
	if !IsItemNotAvailable(actual) {
		v, err := b.readValue(path)
		unlock()
		if err != nil {
			return ConditionalResult{}, err
		}
		return ConditionalResult{
			ConditionWasSatisfied: false,
			ActualETag:            actual,
			ResultingETag:         actual,
			NewValue:              v,
		}, nil
	}
	unlock()

	return b.SetItemIf(ctx, key, defaultValue, expected, condition)
}

func (b *FileDirBackend) DiscardIf(ctx context.Context, key SafeKey, expected any, condition ETagCondition) (ConditionalResult, error) {
	path := b.path(key)
	unlock := b.locks.LockKey(key)
	defer unlock()

	actual, _, err := b.currentETag(path)
	if err != nil {
		return ConditionalResult{}, err
	}
	exists := !IsItemNotAvailable(actual)
	satisfied := satisfiesCondition(condition, expected, actual)

	if !exists {
		return ConditionalResult{
			ConditionWasSatisfied: satisfied,
			ActualETag:            ItemNotAvailable,
			ResultingETag:         ItemNotAvailable,
			NewValue:              ItemNotAvailable,
		}, nil
	}
	if !satisfied {
		return ConditionalResult{
			ConditionWasSatisfied: false,
			ActualETag:            actual,
			ResultingETag:         actual,
			NewValue:              ValueNotRetrieved,
		}, nil
	}
	if err := enforceWritePolicy(b.cfg, key, true, true); err != nil {
		return ConditionalResult{}, err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return ConditionalResult{}, &BackendFailure{Backend: "filedir", Op: "remove", Key: path, Cause: err}
	}
	return ConditionalResult{
		ConditionWasSatisfied: true,
		ActualETag:            actual,
		ResultingETag:         ItemNotAvailable,
		NewValue:              ItemNotAvailable,
	}, nil
}

func (b *FileDirBackend) Get(ctx context.Context, key SafeKey) (any, error) {
	res, err := b.GetItemIf(ctx, key, ItemNotAvailable, AnyETag, AlwaysRetrieve)
	if err != nil {
		return nil, err
	}
	if IsItemNotAvailable(res.ActualETag) {
		return nil, &KeyMissing{Key: key}
	}
	return res.NewValue, nil
}

func (b *FileDirBackend) Set(ctx context.Context, key SafeKey, value any) error {
	_, err := b.SetItemIf(ctx, key, value, ItemNotAvailable, AnyETag)
	return err
}

func (b *FileDirBackend) Delete(ctx context.Context, key SafeKey) error {
	res, err := b.DiscardIf(ctx, key, ItemNotAvailable, AnyETag)
	if err != nil {
		return err
	}
	if IsItemNotAvailable(res.ActualETag) {
		return &KeyMissing{Key: key}
	}
	return nil
}

func (b *FileDirBackend) Discard(ctx context.Context, key SafeKey) (bool, error) {
	res, err := b.DiscardIf(ctx, key, ItemNotAvailable, AnyETag)
	if err != nil {
		return false, err
	}
	return !IsItemNotAvailable(res.ActualETag), nil
}

func (b *FileDirBackend) Contains(ctx context.Context, key SafeKey) (bool, error) {
	actual, _, err := b.currentETag(b.path(key))
	if err != nil {
		return false, err
	}
	return !IsItemNotAvailable(actual), nil
}

func (b *FileDirBackend) ETag(ctx context.Context, key SafeKey) (string, error) {
	actual, _, err := b.currentETag(b.path(key))
	if err != nil {
		return "", err
	}
	if IsItemNotAvailable(actual) {
		return "", &KeyMissing{Key: key}
	}
	return actual.(string), nil
}

func (b *FileDirBackend) Timestamp(ctx context.Context, key SafeKey) (time.Time, error) {
	info, err := os.Stat(b.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return time.Time{}, &KeyMissing{Key: key}
		}
		return time.Time{}, &BackendFailure{Backend: "filedir", Op: "stat", Key: key.String(), Cause: err}
	}
	return info.ModTime(), nil
}

// walk enumerates every (key, modTime) pair in the tree. Entries that
// vanish between listing and stat-ing are silently skipped (race
// tolerance, spec.md §4.3 "Iteration"); filenames that don't carry the
// codec's extension, or whose digest suffix doesn't verify, are foreign
// and ignored.
func (b *FileDirBackend) walk(ctx context.Context) ([]SafeKey, []time.Time, error) {
	var keys []SafeKey
	var times []time.Time
	ext := "." + b.codec.Ext()

	err := filepath.WalkDir(b.baseDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !strings.HasSuffix(d.Name(), ext) {
			return nil
		}
		rel, err := filepath.Rel(b.baseDir, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		rel = strings.TrimSuffix(rel, ext)
		parts := strings.Split(rel, "/")

		components := make([]string, 0, len(parts))
		for _, part := range parts {
			orig, ok := parseComponent(part, b.cfg.DigestLen)
			if !ok {
				return nil // foreign filename, ignore
			}
			components = append(components, orig)
		}
		key, err := NewSafeKey(components...)
		if err != nil {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil // vanished mid-walk
			}
			return nil
		}

		keys = append(keys, key)
		times = append(times, info.ModTime())
		return nil
	})
	if err != nil {
		return nil, nil, &BackendFailure{Backend: "filedir", Op: "walk", Cause: err}
	}
	return keys, times, nil
}

func (b *FileDirBackend) Keys(ctx context.Context) ([]SafeKey, error) {
	keys, _, err := b.walk(ctx)
	return keys, err
}

func (b *FileDirBackend) Len(ctx context.Context) (int, error) {
	keys, err := b.Keys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (b *FileDirBackend) Values(ctx context.Context) ([]any, error) {
	keys, err := b.Keys(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(keys))
	for _, k := range keys {
		v, err := b.Get(ctx, k)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (b *FileDirBackend) Items(ctx context.Context) (map[string]any, error) {
	keys, err := b.Keys(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		v, err := b.Get(ctx, k)
		if err != nil {
			continue
		}
		out[k.String()] = v
	}
	return out, nil
}

func (b *FileDirBackend) RandomKey(ctx context.Context) (SafeKey, error) {
	keys, err := b.Keys(ctx)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, &KeyMissing{Key: SafeKey{"*"}}
	}
	return keys[randIndex(len(keys))], nil
}

func (b *FileDirBackend) rankByTime(ctx context.Context, ascending bool, n int) ([]SafeKey, error) {
	keys, times, err := b.walk(ctx)
	if err != nil {
		return nil, err
	}
	return topNByTime(keys, times, ascending, n), nil
}

func (b *FileDirBackend) OldestKeys(ctx context.Context, n int) ([]SafeKey, error) {
	return b.rankByTime(ctx, true, n)
}

func (b *FileDirBackend) NewestKeys(ctx context.Context, n int) ([]SafeKey, error) {
	return b.rankByTime(ctx, false, n)
}

func (b *FileDirBackend) Subdicts(ctx context.Context) ([]string, error) {
	keys, err := b.Keys(ctx)
	if err != nil {
		return nil, err
	}
	return collectSubdictNames(keys), nil
}

func (b *FileDirBackend) GetSubdict(ctx context.Context, prefix SafeKey) (PersiDict, error) {
	return &subdictView{parent: b, prefix: prefix}, nil
}

var _ PersiDict = (*FileDirBackend)(nil)
