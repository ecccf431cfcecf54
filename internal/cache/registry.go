package cache

import (
	"fmt"
	"path/filepath"
	"sync"
)

var defaultRegistry = NewDirRegistry()

// DirRegistry 记录已被打开过的缓存目录。登记永不释放：
// 即使对应的 Cache 已关闭，同一进程内也不能再次打开该目录。
type DirRegistry struct {
	mu   sync.Mutex
	used map[string]struct{}
}

// NewDirRegistry 创建独立的目录登记表，便于测试隔离。
func NewDirRegistry() *DirRegistry {
	return &DirRegistry{used: make(map[string]struct{})}
}

// DefaultRegistry 返回进程级的目录登记表，Options.Registry 为空时使用。
func DefaultRegistry() *DirRegistry {
	return defaultRegistry
}

// Register 登记目录；目录此前已登记时返回 ErrDuplicateDirectory。
func (r *DirRegistry) Register(dir string) error {
	key, err := normalizeDir(dir)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.used[key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateDirectory, key)
	}
	r.used[key] = struct{}{}
	return nil
}

// Used 报告目录是否已登记。
func (r *DirRegistry) Used(dir string) bool {
	key, err := normalizeDir(dir)
	if err != nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.used[key]
	return exists
}

func normalizeDir(dir string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("cache directory required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve cache directory: %w", err)
	}
	return filepath.Clean(abs), nil
}
