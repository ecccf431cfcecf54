package disklru

import (
	"container/list"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/sirupsen/logrus"
)

var keyPattern = regexp.MustCompile(`^[a-z0-9_-]{1,120}$`)

func validKey(key string) bool {
	return keyPattern.MatchString(key)
}

// Options 控制磁盘缓存的版本、流数量与容量。
type Options struct {
	// Version 是调用方的数据版本，与 journal 中记录的不一致时清空全部条目。
	Version int
	// ValueCount 是每个条目包含的流数量。
	ValueCount int
	// MaxSize 是所有流文件字节数之和的上限。
	MaxSize int64
	// FS 为空时使用以 dir 为根的 osfs。
	FS billy.Filesystem
	// Logger 为空时使用 logrus.StandardLogger()。
	Logger logrus.FieldLogger
	// OnEvict 在持有内部锁时被调用，实现必须快速返回且不能回调 Cache。
	OnEvict func(key string, size int64)
}

// Cache 是基于 journal 的有界 LRU 磁盘存储，可被多个 goroutine 并发使用。
type Cache struct {
	dir        string
	fs         billy.Filesystem
	version    int
	valueCount int
	logger     logrus.FieldLogger
	onEvict    func(key string, size int64)

	mu           sync.Mutex
	maxSize      int64
	size         int64
	entries      map[string]*entry
	lru          *list.List // front = 最近使用
	journal      *journalWriter
	redundantOps int
	closed       bool
}

// Open 打开（或创建）dir 下的缓存，重放 journal 并清理未完成的编辑。
func Open(dir string, opts Options) (*Cache, error) {
	if opts.ValueCount <= 0 {
		return nil, errors.New("disklru: value count must be positive")
	}
	if opts.MaxSize <= 0 {
		return nil, errors.New("disklru: max size must be positive")
	}

	fsys := opts.FS
	if fsys == nil {
		if dir == "" {
			return nil, errors.New("disklru: directory required")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
		fsys = osfs.New(dir)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	c := &Cache{
		dir:        dir,
		fs:         fsys,
		version:    opts.Version,
		valueCount: opts.ValueCount,
		logger:     logger.WithField("dir", dir),
		onEvict:    opts.OnEvict,
		maxSize:    opts.MaxSize,
		entries:    make(map[string]*entry),
		lru:        list.New(),
	}

	if c.exists(journalBackup) {
		if c.exists(journalFile) {
			c.removeQuietly(journalBackup)
		} else if err := c.fs.Rename(journalBackup, journalFile); err != nil {
			return nil, fmt.Errorf("restore journal backup: %w", err)
		}
	}

	if c.exists(journalFile) {
		truncated, err := c.readJournal()
		switch {
		case errors.Is(err, errHeaderMismatch):
			c.logger.WithError(err).Warn("journal incompatible, discarding cache contents")
			c.entries = make(map[string]*entry)
			c.lru.Init()
			if err := c.wipe(); err != nil {
				return nil, fmt.Errorf("discard incompatible cache: %w", err)
			}
		case err != nil:
			return nil, fmt.Errorf("read journal: %w", err)
		default:
			c.processJournal()
			if truncated {
				c.logger.Warn("journal ends with a partial line, rebuilding")
				if err := c.rebuildJournal(); err != nil {
					return nil, err
				}
			} else {
				jw, err := openJournalWriter(c.fs)
				if err != nil {
					return nil, err
				}
				c.journal = jw
			}
			c.logger.WithFields(logrus.Fields{
				"entries":    len(c.entries),
				"size_bytes": c.size,
			}).Info("disk cache restored")
			return c, nil
		}
	}

	if err := c.rebuildJournal(); err != nil {
		return nil, err
	}
	return c, nil
}

// Get 返回 key 的只读快照；条目不存在时返回 ErrNotFound。调用方必须 Close 快照。
func (c *Cache) Get(key string) (*Snapshot, error) {
	if !validKey(key) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	e, ok := c.entries[key]
	if !ok || !e.readable {
		return nil, ErrNotFound
	}

	files := make([]billy.File, c.valueCount)
	for i := range files {
		f, err := c.fs.Open(e.cleanFile(i))
		if err != nil {
			closeFiles(files[:i])
			if os.IsNotExist(err) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("open %s: %w", e.cleanFile(i), err)
		}
		files[i] = f
	}

	c.redundantOps++
	c.lru.MoveToFront(e.elem)
	if err := c.appendJournal(opRead, key, ""); err != nil {
		closeFiles(files)
		return nil, err
	}
	c.maybeCompact()

	lengths := make([]int64, len(e.lengths))
	copy(lengths, e.lengths)
	return &Snapshot{key: key, files: files, lengths: lengths}, nil
}

// Edit 为 key 开启一次编辑；同一 key 同时只允许一个 Editor，否则返回 ErrEditInProgress。
func (c *Cache) Edit(key string) (*Editor, error) {
	if !validKey(key) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	e, ok := c.entries[key]
	if ok && e.editor != nil {
		return nil, ErrEditInProgress
	}
	if !ok {
		e = newEntry(key, c.valueCount)
		e.elem = c.lru.PushFront(e)
		c.entries[key] = e
	}

	ed := &Editor{
		cache:   c,
		entry:   e,
		written: make([]bool, c.valueCount),
	}
	e.editor = ed
	if err := c.appendJournal(opDirty, key, ""); err != nil {
		e.editor = nil
		if !e.readable {
			c.lru.Remove(e.elem)
			delete(c.entries, key)
		}
		return nil, err
	}
	return ed, nil
}

// completeEdit 在持有 c.mu 时发布或丢弃 Editor 暂存的全部流。
func (c *Cache) completeEdit(ed *Editor, success bool) error {
	e := ed.entry
	if e.editor != ed {
		return ErrEditorClosed
	}

	written, failed := ed.finish()
	var result error
	if success && failed {
		success = false
		result = ErrStreamFailed
	}
	if success && !e.readable {
		for i := 0; i < c.valueCount; i++ {
			if !written[i] || !c.exists(e.dirtyFile(i)) {
				success = false
				result = fmt.Errorf("%w: stream %d missing", ErrIncompleteEntry, i)
				break
			}
		}
	}

	if success {
		for i := 0; i < c.valueCount; i++ {
			if !written[i] {
				continue
			}
			length, err := c.publish(e, i)
			if err != nil {
				// 已部分发布，整条记录作废，避免读者看到新旧混合的流。
				c.logger.WithError(err).WithField("key", e.key).Error("publish stream failed, dropping entry")
				e.editor = nil
				for j := i; j < c.valueCount; j++ {
					c.removeQuietly(e.dirtyFile(j))
				}
				c.removeLocked(e)
				return fmt.Errorf("publish %s: %w", e.dirtyFile(i), err)
			}
			c.size += length - e.lengths[i]
			e.lengths[i] = length
		}
	} else {
		for i := 0; i < c.valueCount; i++ {
			c.removeQuietly(e.dirtyFile(i))
		}
	}

	c.redundantOps++
	e.editor = nil
	if e.readable || success {
		e.readable = true
		if success {
			c.lru.MoveToFront(e.elem)
		}
		if err := c.appendJournal(opClean, e.key, e.lengthFields()); err != nil && result == nil {
			result = err
		}
	} else {
		c.lru.Remove(e.elem)
		delete(c.entries, e.key)
		if err := c.appendJournal(opRemove, e.key, ""); err != nil && result == nil {
			result = err
		}
	}

	if success {
		c.trimToSize()
	}
	c.maybeCompact()
	return result
}

func (c *Cache) publish(e *entry, i int) (int64, error) {
	clean := e.cleanFile(i)
	if err := c.fs.Rename(e.dirtyFile(i), clean); err != nil {
		return 0, err
	}
	info, err := c.fs.Stat(clean)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Remove 删除 key 对应的条目；正在编辑的条目不会被删除。
func (c *Cache) Remove(key string) (bool, error) {
	if !validKey(key) {
		return false, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, ErrClosed
	}

	e, ok := c.entries[key]
	if !ok || e.editor != nil || !e.readable {
		return false, nil
	}
	if err := c.removeLocked(e); err != nil {
		return false, err
	}
	c.maybeCompact()
	return true, nil
}

func (c *Cache) removeLocked(e *entry) error {
	var firstErr error
	for i := 0; i < c.valueCount; i++ {
		if err := c.fs.Remove(e.cleanFile(i)); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = fmt.Errorf("remove %s: %w", e.cleanFile(i), err)
		}
	}
	c.size -= e.size()
	c.redundantOps++
	c.lru.Remove(e.elem)
	delete(c.entries, e.key)
	if err := c.appendJournal(opRemove, e.key, ""); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// trimToSize 从最久未使用的条目开始淘汰，直到总大小不超过上限。
func (c *Cache) trimToSize() {
	el := c.lru.Back()
	for c.size > c.maxSize && el != nil {
		prev := el.Prev()
		e := el.Value.(*entry)
		if e.editor == nil && e.readable {
			size := e.size()
			if err := c.removeLocked(e); err != nil {
				c.logger.WithError(err).WithField("key", e.key).Warn("evict entry")
			}
			c.logger.WithFields(logrus.Fields{
				"key":        e.key,
				"size_bytes": size,
			}).Debug("entry evicted")
			if c.onEvict != nil {
				c.onEvict(e.key, size)
			}
		}
		el = prev
	}
}

// Size 返回当前所有已提交流的字节总数。
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// MaxSize 返回容量上限。
func (c *Cache) MaxSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxSize
}

// SetMaxSize 调整容量上限并立即淘汰超出的条目。
func (c *Cache) SetMaxSize(maxSize int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxSize = maxSize
	c.trimToSize()
}

// Len 返回可读条目数量。
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.entries {
		if e.readable {
			n++
		}
	}
	return n
}

// Dir 返回缓存目录。
func (c *Cache) Dir() string {
	return c.dir
}

// Flush 淘汰超限条目并将 journal 缓冲写入文件。
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.trimToSize()
	if c.journal == nil {
		return nil
	}
	return c.journal.buf.Flush()
}

// Close 回滚所有未完成的编辑并关闭 journal。重复调用是安全的。
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}

	for _, e := range c.entries {
		if e.editor != nil && e.editor.cache != nil {
			if err := c.completeEdit(e.editor, false); err != nil {
				c.logger.WithError(err).WithField("key", e.key).Warn("abort pending edit on close")
			}
		}
	}
	c.trimToSize()
	c.closed = true
	if c.journal == nil {
		return nil
	}
	err := c.journal.close()
	c.journal = nil
	return err
}

// Delete 关闭缓存并删除目录中的全部文件。
func (c *Cache) Delete() error {
	if err := c.Close(); err != nil {
		c.logger.WithError(err).Warn("close before delete")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.lru.Init()
	c.size = 0
	return c.wipe()
}

func (c *Cache) appendJournal(op, key, extra string) error {
	if c.journal == nil {
		return fmt.Errorf("disklru: journal unavailable")
	}
	if err := c.journal.append(op, key, extra); err != nil {
		return fmt.Errorf("append journal: %w", err)
	}
	return nil
}

// wipe 删除目录下的所有普通文件。
func (c *Cache) wipe() error {
	infos, err := c.fs.ReadDir(".")
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		if err := c.fs.Remove(info.Name()); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", info.Name(), err)
		}
	}
	return nil
}

func (c *Cache) exists(name string) bool {
	_, err := c.fs.Stat(name)
	return err == nil
}

func (c *Cache) removeQuietly(name string) {
	if err := c.fs.Remove(name); err != nil && !os.IsNotExist(err) {
		c.logger.WithError(err).WithField("file", name).Warn("remove file")
	}
}

func closeFiles(files []billy.File) {
	for _, f := range files {
		if f != nil {
			_ = f.Close()
		}
	}
}
