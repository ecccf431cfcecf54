package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound 表示引擎中不存在该记录。Read/Contains 不会向调用方返回它。
	ErrNotFound = errors.New("cache entry not found")
	// ErrDuplicateDirectory 表示同一目录在本进程内已经被打开过。
	ErrDuplicateDirectory = errors.New("cache directory already used in this process")
	// ErrStoreOpen 表示底层存储引擎打开失败（journal 损坏、权限等）。
	ErrStoreOpen = errors.New("open store engine")
	// ErrSerialization 表示值或元数据无法编码。
	ErrSerialization = errors.New("serialize cache record")
	// ErrDeserialization 表示已存储的字节无法还原为声明的类型，属于不可重试的错误。
	ErrDeserialization = errors.New("deserialize cache record")
	// ErrStreamIO 表示暂存或流式写入时出现 I/O 错误，记录未被发布。
	ErrStreamIO = errors.New("cache stream i/o")
	// ErrEditInProgress 表示同一 key 已有进行中的写入。
	ErrEditInProgress = errors.New("cache write already in progress for key")
	// ErrStreamClosed 表示 StreamWriter 已关闭。
	ErrStreamClosed = errors.New("cache stream closed")
	// ErrClosed 表示 Cache 已关闭。
	ErrClosed = errors.New("cache closed")
)

// OpError 记录失败的操作与外部 key；Err 链中包含分类哨兵（如 ErrStreamIO）与原始原因，
// 调用方使用 errors.Is 判断分类。
type OpError struct {
	Op  string
	Key string
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Key, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func opError(op, key string, err error) error {
	return &OpError{Op: op, Key: key, Err: err}
}
