package disklru

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/go-git/go-billy/v5"
)

const (
	journalFile   = "journal"
	journalTmp    = "journal.tmp"
	journalBackup = "journal.bkp"

	journalMagic  = "objcache.disklru"
	journalFormat = "1"

	opClean  = "CLEAN"
	opDirty  = "DIRTY"
	opRemove = "REMOVE"
	opRead   = "READ"

	// 冗余操作超过该阈值（且多于存活条目数）时重写 journal。
	redundantOpCompactThreshold = 2000
)

// errHeaderMismatch 表示 journal 头部与当前版本/流数量不一致，整个目录需要作废。
var errHeaderMismatch = errors.New("disklru: journal header mismatch")

// journalWriter 以追加方式写入 journal，每条操作写完立即 flush。
type journalWriter struct {
	file billy.File
	buf  *bufio.Writer
}

func openJournalWriter(fs billy.Filesystem) (*journalWriter, error) {
	f, err := fs.OpenFile(journalFile, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &journalWriter{file: f, buf: bufio.NewWriter(f)}, nil
}

func (w *journalWriter) append(op, key, extra string) error {
	if _, err := w.buf.WriteString(op + " " + key + extra + "\n"); err != nil {
		return err
	}
	return w.buf.Flush()
}

func (w *journalWriter) close() error {
	flushErr := w.buf.Flush()
	closeErr := w.file.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

func (c *Cache) journalHeader() []string {
	return []string{
		journalMagic,
		journalFormat,
		strconv.Itoa(c.version),
		strconv.Itoa(c.valueCount),
		"",
	}
}

// readJournal 重放 journal 构建索引；truncated 表示最后一行不完整（写入中途崩溃）。
func (c *Cache) readJournal() (truncated bool, err error) {
	f, err := c.fs.Open(journalFile)
	if err != nil {
		return false, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for i, want := range c.journalHeader() {
		line, err := r.ReadString('\n')
		if err != nil {
			return false, fmt.Errorf("%w: short header", errHeaderMismatch)
		}
		if got := strings.TrimSuffix(line, "\n"); got != want {
			return false, fmt.Errorf("%w: line %d is %q, want %q", errHeaderMismatch, i+1, got, want)
		}
	}

	lines := 0
	for {
		line, err := r.ReadString('\n')
		if errors.Is(err, io.EOF) {
			truncated = line != ""
			break
		}
		if err != nil {
			return false, err
		}
		if err := c.replayLine(strings.TrimSuffix(line, "\n")); err != nil {
			return false, fmt.Errorf("line %d: %w", lines+1, err)
		}
		lines++
	}
	c.redundantOps = lines - len(c.entries)
	return truncated, nil
}

func (c *Cache) replayLine(line string) error {
	parts := strings.Split(line, " ")
	if len(parts) < 2 || !validKey(parts[1]) {
		return fmt.Errorf("%w: %q", ErrCorruptJournal, line)
	}
	op, key := parts[0], parts[1]

	if op == opRemove {
		if len(parts) != 2 {
			return fmt.Errorf("%w: %q", ErrCorruptJournal, line)
		}
		if e, ok := c.entries[key]; ok {
			c.lru.Remove(e.elem)
			delete(c.entries, key)
		}
		return nil
	}

	e, ok := c.entries[key]
	switch op {
	case opRead:
		if len(parts) != 2 {
			return fmt.Errorf("%w: %q", ErrCorruptJournal, line)
		}
		if ok {
			c.lru.MoveToFront(e.elem)
		}
		return nil
	case opClean, opDirty:
	default:
		return fmt.Errorf("%w: unknown op %q", ErrCorruptJournal, op)
	}

	if !ok {
		e = newEntry(key, c.valueCount)
		e.elem = c.lru.PushFront(e)
		c.entries[key] = e
	} else {
		c.lru.MoveToFront(e.elem)
	}

	if op == opDirty {
		if len(parts) != 2 {
			return fmt.Errorf("%w: %q", ErrCorruptJournal, line)
		}
		e.editor = &Editor{entry: e}
		return nil
	}
	if err := e.setLengths(parts[2:]); err != nil {
		return err
	}
	e.readable = true
	e.editor = nil
	return nil
}

// processJournal 统计存活条目大小，并丢弃崩溃时仍处于 DIRTY 状态的条目。
func (c *Cache) processJournal() {
	c.removeQuietly(journalTmp)
	for key, e := range c.entries {
		if e.editor == nil && e.readable {
			c.size += e.size()
			continue
		}
		for i := 0; i < c.valueCount; i++ {
			c.removeQuietly(e.cleanFile(i))
			c.removeQuietly(e.dirtyFile(i))
		}
		c.lru.Remove(e.elem)
		delete(c.entries, key)
	}
}

// rebuildJournal 将当前索引写入 journal.tmp 后原子替换 journal，并保留 journal.bkp 直到替换完成。
func (c *Cache) rebuildJournal() error {
	if c.journal != nil {
		if err := c.journal.close(); err != nil {
			c.logger.WithError(err).Warn("close journal before rebuild")
		}
		c.journal = nil
	}

	f, err := c.fs.Create(journalTmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", journalTmp, err)
	}
	w := bufio.NewWriter(f)
	for _, line := range c.journalHeader() {
		w.WriteString(line + "\n")
	}
	// 从最久未使用写到最近使用，重放时 recency 顺序保持不变。
	for el := c.lru.Back(); el != nil; el = el.Prev() {
		e := el.Value.(*entry)
		if e.editor != nil {
			w.WriteString(opDirty + " " + e.key + "\n")
		} else {
			w.WriteString(opClean + " " + e.key + e.lengthFields() + "\n")
		}
	}
	err = w.Flush()
	if err == nil {
		err = syncFile(f)
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		c.removeQuietly(journalTmp)
		return fmt.Errorf("write %s: %w", journalTmp, err)
	}

	if c.exists(journalFile) {
		if err := c.fs.Rename(journalFile, journalBackup); err != nil {
			return fmt.Errorf("backup journal: %w", err)
		}
	}
	if err := c.fs.Rename(journalTmp, journalFile); err != nil {
		return fmt.Errorf("install journal: %w", err)
	}
	c.removeQuietly(journalBackup)

	jw, err := openJournalWriter(c.fs)
	if err != nil {
		return err
	}
	c.journal = jw
	c.redundantOps = 0
	return nil
}

func (c *Cache) compactionRequired() bool {
	return c.redundantOps >= redundantOpCompactThreshold && c.redundantOps >= len(c.entries)
}

// maybeCompact 在需要时压缩 journal；失败只记录日志，原 journal 仍然可用。
func (c *Cache) maybeCompact() {
	if !c.compactionRequired() {
		return
	}
	if err := c.rebuildJournal(); err != nil {
		c.logger.WithError(err).Warn("journal compaction failed")
		if c.journal == nil {
			if jw, openErr := openJournalWriter(c.fs); openErr == nil {
				c.journal = jw
			}
		}
	}
}

func syncFile(f billy.File) error {
	if s, ok := f.(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}
