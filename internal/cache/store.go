package cache

import (
	"errors"
	"io"

	"github.com/any-hub/objcache/internal/disklru"
)

// Engine 是 Cache 依赖的存储引擎契约：按 key 管理多流条目，提供快照读取与事务写入。
// 默认实现为 disklru；同一 key 的并发编辑由引擎拒绝（ErrEditInProgress）。
type Engine interface {
	// Get 返回已提交记录的快照；不存在时返回 ErrNotFound。调用方必须 Close 快照。
	Get(key string) (Snapshot, error)
	// Edit 开启一次写事务。
	Edit(key string) (Editor, error)
	// Remove 删除记录，返回是否真的删除了。
	Remove(key string) (bool, error)
	Size() int64
	MaxSize() int64
	Close() error
}

// Editor 是进行中的写事务，Commit 原子发布全部暂存流，Abort 丢弃全部暂存流。
type Editor interface {
	NewWriter(index int) (io.WriteCloser, error)
	Commit() error
	Abort() error
}

// Snapshot 是已提交记录的只读视图。
type Snapshot interface {
	Reader(index int) io.Reader
	Close() error
}

// lruEngine 将 disklru.Cache 适配为 Engine，并把引擎错误映射到本包的哨兵错误。
type lruEngine struct {
	lru *disklru.Cache
}

func (e lruEngine) Get(key string) (Snapshot, error) {
	snap, err := e.lru.Get(key)
	if err != nil {
		return nil, mapEngineError(err)
	}
	return snap, nil
}

func (e lruEngine) Edit(key string) (Editor, error) {
	ed, err := e.lru.Edit(key)
	if err != nil {
		return nil, mapEngineError(err)
	}
	return ed, nil
}

func (e lruEngine) Remove(key string) (bool, error) {
	removed, err := e.lru.Remove(key)
	return removed, mapEngineError(err)
}

func (e lruEngine) Size() int64 { return e.lru.Size() }

func (e lruEngine) MaxSize() int64 { return e.lru.MaxSize() }

func (e lruEngine) Close() error { return e.lru.Close() }

func mapEngineError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, disklru.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, disklru.ErrEditInProgress):
		return ErrEditInProgress
	case errors.Is(err, disklru.ErrClosed):
		return ErrClosed
	default:
		return err
	}
}
