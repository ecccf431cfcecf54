package disklru

import (
	"fmt"
	"io"
	"sync"

	"github.com/go-git/go-billy/v5"
)

// Editor 暂存一个条目的全部流，Commit 时一次性发布，Abort 时全部丢弃。
type Editor struct {
	cache *Cache
	entry *entry

	mu      sync.Mutex
	written []bool
	writers []*streamWriter
	failed  bool
	done    bool
}

// Key 返回正在编辑的 key。
func (ed *Editor) Key() string {
	return ed.entry.key
}

// NewWriter 返回第 index 个流的写入器；重复调用会截断此前写入的内容。
func (ed *Editor) NewWriter(index int) (io.WriteCloser, error) {
	if index < 0 || index >= len(ed.written) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidIndex, index)
	}

	ed.mu.Lock()
	defer ed.mu.Unlock()
	if ed.done {
		return nil, ErrEditorClosed
	}

	f, err := ed.cache.fs.Create(ed.entry.dirtyFile(index))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", ed.entry.dirtyFile(index), err)
	}
	w := &streamWriter{editor: ed, file: f}
	ed.written[index] = true
	ed.writers = append(ed.writers, w)
	return w, nil
}

// Commit 发布所有已写入的流。任何流写入失败都会使提交变为回滚并返回 ErrStreamFailed。
func (ed *Editor) Commit() error {
	ed.cache.mu.Lock()
	defer ed.cache.mu.Unlock()
	return ed.cache.completeEdit(ed, true)
}

// Abort 丢弃所有暂存流，已有条目保持不变。
func (ed *Editor) Abort() error {
	ed.cache.mu.Lock()
	defer ed.cache.mu.Unlock()
	return ed.cache.completeEdit(ed, false)
}

// finish 关闭仍未关闭的写入器并冻结 Editor，返回写入标记与失败状态。
func (ed *Editor) finish() ([]bool, bool) {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	for _, w := range ed.writers {
		if err := w.closeFile(); err != nil {
			ed.failed = true
		}
	}
	ed.done = true
	written := make([]bool, len(ed.written))
	copy(written, ed.written)
	return written, ed.failed
}

func (ed *Editor) markFailed() {
	ed.mu.Lock()
	ed.failed = true
	ed.mu.Unlock()
}

// streamWriter 将写入错误记录到所属 Editor，使后续 Commit 退化为回滚。
type streamWriter struct {
	editor *Editor
	file   billy.File

	closeOnce sync.Once
	closeErr  error
}

func (w *streamWriter) Write(p []byte) (int, error) {
	n, err := w.file.Write(p)
	if err != nil {
		w.editor.markFailed()
	}
	return n, err
}

func (w *streamWriter) Close() error {
	err := w.closeFile()
	if err != nil {
		w.editor.markFailed()
	}
	return err
}

func (w *streamWriter) closeFile() error {
	w.closeOnce.Do(func() {
		w.closeErr = w.file.Close()
	})
	return w.closeErr
}
