package cache

import (
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

var errInjected = errors.New("injected stream failure")

func testLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// openTestCache 使用独立的目录登记表打开缓存，未指定的选项取测试默认值。
func openTestCache[V any](t *testing.T, opts Options) *Cache[V] {
	t.Helper()
	if opts.Directory == "" {
		opts.Directory = t.TempDir()
	}
	if opts.SchemaVersion == 0 {
		opts.SchemaVersion = 1
	}
	if opts.MaxBytes == 0 {
		opts.MaxBytes = 1 << 20
	}
	if opts.Registry == nil {
		opts.Registry = NewDirRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = testLogger()
	}
	c, err := Open[V](opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// faultyFS 让名称以 failSuffix 结尾的文件写入失败；failSuffix 可以在测试中途切换。
type faultyFS struct {
	billy.Filesystem

	mu         sync.Mutex
	failSuffix string
}

func newFaultyFS(dir string) *faultyFS {
	return &faultyFS{Filesystem: osfs.New(dir)}
}

func (f *faultyFS) failOn(suffix string) {
	f.mu.Lock()
	f.failSuffix = suffix
	f.mu.Unlock()
}

func (f *faultyFS) Create(name string) (billy.File, error) {
	file, err := f.Filesystem.Create(name)
	f.mu.Lock()
	suffix := f.failSuffix
	f.mu.Unlock()
	if err != nil || suffix == "" || !strings.HasSuffix(name, suffix) {
		return file, err
	}
	return &faultyFile{File: file}, nil
}

type faultyFile struct {
	billy.File
}

func (f *faultyFile) Write([]byte) (int, error) {
	return 0, errInjected
}
