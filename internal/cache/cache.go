package cache

import (
	"errors"
	"fmt"

	"github.com/go-git/go-billy/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/objcache/internal/disklru"
)

// Metadata 是与记录一一对应的命名字段，可以为空。
type Metadata map[string]any

// ObjectEntry 是一次读取得到的值与元数据，由调用方持有，与磁盘记录不再关联。
type ObjectEntry[V any] struct {
	Value    V
	Metadata Metadata
}

// Options 描述打开缓存所需的目录、版本、容量与可选依赖。
type Options struct {
	// Directory 是缓存目录，同一进程内只能打开一次。
	Directory string
	// SchemaVersion 变化时引擎会丢弃全部已有记录。
	SchemaVersion int
	// MaxBytes 是所有记录流大小之和的上限。
	MaxBytes int64
	// Codec 为空时使用 GobCodec。
	Codec Codec
	// Registry 为空时使用 DefaultRegistry()。
	Registry *DirRegistry
	// Logger 为空时使用 logrus.StandardLogger()。
	Logger logrus.FieldLogger
	// Registerer 非空时注册 objcache_* 指标。
	Registerer prometheus.Registerer
	// FS 为空时引擎使用以 Directory 为根的 osfs。
	FS billy.Filesystem
}

// Cache 按字符串 key 存取类型为 V 的值及其元数据，保证读者不会看到写了一半的记录。
type Cache[V any] struct {
	dir     string
	engine  Engine
	codec   Codec
	logger  logrus.FieldLogger
	metrics *Metrics
}

// Open 登记目录并打开存储引擎。目录已被本进程使用过时返回 ErrDuplicateDirectory，
// 引擎打开失败时返回 ErrStoreOpen。
func Open[V any](opts Options) (*Cache[V], error) {
	registry := opts.Registry
	if registry == nil {
		registry = DefaultRegistry()
	}
	if err := registry.Register(opts.Directory); err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	codec := opts.Codec
	if codec == nil {
		codec = GobCodec{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	var (
		lru     *disklru.Cache
		metrics *Metrics
		err     error
	)
	if opts.Registerer != nil {
		metrics, err = newMetrics(opts.Registerer, opts.Directory, func() float64 {
			if lru == nil {
				return 0
			}
			return float64(lru.Size())
		})
		if err != nil {
			return nil, fmt.Errorf("register cache metrics: %w", err)
		}
	}

	lru, err = disklru.Open(opts.Directory, disklru.Options{
		Version:    opts.SchemaVersion,
		ValueCount: streamCount,
		MaxSize:    opts.MaxBytes,
		FS:         opts.FS,
		Logger:     logger,
		OnEvict: func(string, int64) {
			metrics.observeEviction()
		},
	})
	if err != nil {
		metrics.unregister(opts.Registerer)
		return nil, fmt.Errorf("%w: %s: %w", ErrStoreOpen, opts.Directory, err)
	}

	c := newCache[V](opts.Directory, lruEngine{lru: lru}, codec, logger)
	c.metrics = metrics
	return c, nil
}

func newCache[V any](dir string, engine Engine, codec Codec, logger logrus.FieldLogger) *Cache[V] {
	return &Cache[V]{
		dir:    dir,
		engine: engine,
		codec:  codec,
		logger: logger.WithField("cache_dir", dir),
	}
}

// Contains 报告 key 是否存在已提交的记录。是否更新最近使用顺序由引擎决定（disklru 会更新）。
func (c *Cache[V]) Contains(key string) (bool, error) {
	snap, err := c.engine.Get(InternalKey(key))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, opError("contains", key, engineError(err))
	}
	c.release(snap, key)
	return true, nil
}

// Read 读取并解码记录；记录不存在时返回 ok=false 且 err=nil。
func (c *Cache[V]) Read(key string) (entry ObjectEntry[V], ok bool, err error) {
	snap, err := c.engine.Get(InternalKey(key))
	if errors.Is(err, ErrNotFound) {
		c.metrics.observeRead(false)
		return ObjectEntry[V]{}, false, nil
	}
	if err != nil {
		return ObjectEntry[V]{}, false, opError("read", key, engineError(err))
	}
	defer c.release(snap, key)

	value, err := readValue[V](snap, c.codec)
	if err != nil {
		return ObjectEntry[V]{}, false, opError("read", key, err)
	}
	md, err := readMetadata(snap, c.codec)
	if err != nil {
		return ObjectEntry[V]{}, false, opError("read", key, err)
	}

	c.metrics.observeRead(true)
	return ObjectEntry[V]{Value: value, Metadata: md}, true, nil
}

// Write 一次性写入值与元数据并立即提交。
func (c *Cache[V]) Write(key string, value V, md Metadata) error {
	w, err := c.OpenStream(key, value, md)
	if err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return opError("write", key, err)
	}
	return nil
}

// OpenStream 暂存值与元数据后返回存在标记流。调用方可继续写入任意字节，
// Close 决定提交还是回滚；在 Close 之前记录对读者不可见。
func (c *Cache[V]) OpenStream(key string, value V, md Metadata) (*StreamWriter, error) {
	internalKey := InternalKey(key)
	editor, err := c.engine.Edit(internalKey)
	if err != nil {
		return nil, opError("write", key, engineError(err))
	}

	txn := newTransaction(uuid.NewString(), key, internalKey, editor, c.codec, c.logger, c.metrics)
	if err := stageValue(txn, value); err != nil {
		return nil, opError("write", key, err)
	}
	if err := txn.stageMetadata(md); err != nil {
		return nil, opError("write", key, err)
	}
	w, err := txn.openMarker()
	if err != nil {
		return nil, opError("write", key, err)
	}
	return w, nil
}

// Put 写入不带元数据的值，等价于 PutWithMetadata(key, value, nil)。
func (c *Cache[V]) Put(key string, value V) error {
	return c.PutWithMetadata(key, value, nil)
}

// PutWithMetadata 通过流式入口写入值与元数据，标记流写入空负载后立即关闭。
func (c *Cache[V]) PutWithMetadata(key string, value V, md Metadata) error {
	w, err := c.OpenStream(key, value, md)
	if err != nil {
		return err
	}
	_, writeErr := w.Write([]byte{})
	closeErr := w.Close()
	if writeErr != nil {
		return opError("put", key, writeErr)
	}
	if closeErr != nil {
		return opError("put", key, closeErr)
	}
	return nil
}

// Remove 删除 key 的记录，返回记录是否存在。
func (c *Cache[V]) Remove(key string) (bool, error) {
	removed, err := c.engine.Remove(InternalKey(key))
	if err != nil {
		return false, opError("remove", key, engineError(err))
	}
	return removed, nil
}

// Size 返回当前已提交记录占用的字节数。
func (c *Cache[V]) Size() int64 {
	return c.engine.Size()
}

// MaxSize 返回容量上限。
func (c *Cache[V]) MaxSize() int64 {
	return c.engine.MaxSize()
}

// Dir 返回缓存目录。
func (c *Cache[V]) Dir() string {
	return c.dir
}

// Close 关闭存储引擎。目录登记不会释放，同一进程内不能再次打开该目录。
func (c *Cache[V]) Close() error {
	return c.engine.Close()
}

// release 关闭快照；关闭错误不影响已完成的读取，只记录日志。
func (c *Cache[V]) release(snap Snapshot, key string) {
	if err := snap.Close(); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("release snapshot")
	}
}

// engineError 给未分类的引擎错误套上 ErrStreamIO。
func engineError(err error) error {
	if errors.Is(err, ErrEditInProgress) || errors.Is(err, ErrClosed) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStreamIO, err)
}
