package cache

import (
	"bufio"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/objcache/internal/logging"
)

// txnState 描述一次写入尝试所处的阶段。
type txnState int

const (
	txnOpened txnState = iota
	txnValueStaged
	txnMetadataStaged
	txnCommitted
	txnAborted
)

func (s txnState) String() string {
	switch s {
	case txnOpened:
		return "opened"
	case txnValueStaged:
		return "value_staged"
	case txnMetadataStaged:
		return "metadata_staged"
	case txnCommitted:
		return "committed"
	case txnAborted:
		return "aborted"
	default:
		return fmt.Sprintf("txnState(%d)", int(s))
	}
}

// transaction 驱动 opened → value_staged → metadata_staged → committed|aborted。
// failed 由 StreamWriter 在任意写入/flush 出错时置位，只在 finalize 时检查一次。
type transaction struct {
	id      string
	editor  Editor
	codec   Codec
	logger  logrus.FieldLogger
	metrics *Metrics

	state  txnState
	failed bool
}

func newTransaction(id, key, internalKey string, editor Editor, codec Codec, logger logrus.FieldLogger, metrics *Metrics) *transaction {
	return &transaction{
		id:      id,
		editor:  editor,
		codec:   codec,
		logger:  logger.WithFields(logging.EntryFields(key, internalKey, id)),
		metrics: metrics,
		state:   txnOpened,
	}
}

func stageValue[V any](t *transaction, value V) error {
	if err := writeValue(t.editor, t.codec, value, t.logger); err != nil {
		t.abort(err)
		return err
	}
	t.state = txnValueStaged
	return nil
}

func (t *transaction) stageMetadata(md Metadata) error {
	if err := writeMetadata(t.editor, t.codec, md, t.logger); err != nil {
		t.abort(err)
		return err
	}
	t.state = txnMetadataStaged
	return nil
}

// openMarker 打开存在标记流并返回受跟踪的写入通道。
func (t *transaction) openMarker() (*StreamWriter, error) {
	raw, err := t.editor.NewWriter(markerStream)
	if err != nil {
		err = fmt.Errorf("%w: open stream %d: %w", ErrStreamIO, markerStream, err)
		t.abort(err)
		return nil, err
	}
	return &StreamWriter{txn: t, raw: raw, buf: bufio.NewWriter(raw)}, nil
}

// finalize 根据 failed 决定提交或回滚。
func (t *transaction) finalize() error {
	if t.failed {
		t.abort(nil)
		return fmt.Errorf("%w: record discarded after write failure", ErrStreamIO)
	}
	if err := t.editor.Commit(); err != nil {
		t.state = txnAborted
		t.metrics.observeWrite(false)
		t.logger.WithError(err).Warn("commit failed")
		return fmt.Errorf("%w: commit: %w", ErrStreamIO, err)
	}
	t.state = txnCommitted
	t.metrics.observeWrite(true)
	t.logger.Debug("record committed")
	return nil
}

// abort 回滚事务；回滚本身的错误属于次要错误，只记录日志。
func (t *transaction) abort(cause error) {
	if err := t.editor.Abort(); err != nil {
		t.logger.WithError(err).Warn("abort failed")
	}
	t.state = txnAborted
	t.metrics.observeWrite(false)
	entry := t.logger.WithField("state", t.state.String())
	if cause != nil {
		entry = entry.WithError(cause)
	}
	entry.Debug("record aborted")
}

// StreamWriter 是存在标记流上的受跟踪通道。调用方可以在 Close 之前写入任意字节；
// Close 在没有任何写入/flush 失败时提交整条记录，否则回滚并返回 ErrStreamIO。
type StreamWriter struct {
	txn *transaction
	raw io.WriteCloser
	buf *bufio.Writer

	mu     sync.Mutex
	closed bool
}

var _ io.WriteCloser = (*StreamWriter)(nil)

func (w *StreamWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, ErrStreamClosed
	}
	n, err := w.buf.Write(p)
	if err != nil {
		w.txn.failed = true
		return n, fmt.Errorf("%w: %w", ErrStreamIO, err)
	}
	return n, nil
}

// Flush 将缓冲写入引擎流。
func (w *StreamWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrStreamClosed
	}
	if err := w.buf.Flush(); err != nil {
		w.txn.failed = true
		return fmt.Errorf("%w: %w", ErrStreamIO, err)
	}
	return nil
}

// Close 刷新并关闭通道，然后提交或回滚事务。重复调用返回 nil。
func (w *StreamWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	var primary error
	if err := w.buf.Flush(); err != nil {
		w.txn.failed = true
		primary = fmt.Errorf("%w: flush: %w", ErrStreamIO, err)
	}
	if err := w.raw.Close(); err != nil {
		w.txn.failed = true
		if primary == nil {
			primary = fmt.Errorf("%w: close: %w", ErrStreamIO, err)
		}
	}

	finalErr := w.txn.finalize()
	if primary != nil {
		return primary
	}
	return finalErr
}

// State 返回事务当前阶段，主要用于诊断。
func (w *StreamWriter) State() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.txn.state.String()
}
