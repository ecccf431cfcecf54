package disklru

import (
	"errors"
	"io"

	"github.com/go-git/go-billy/v5"
)

// Snapshot 是某个条目在 Get 时刻的只读视图；流文件在 Get 时全部打开，
// 之后的覆盖写入不会影响已打开的快照。
type Snapshot struct {
	key     string
	files   []billy.File
	lengths []int64
}

// Key 返回快照对应的 key。
func (s *Snapshot) Key() string {
	return s.key
}

// Reader 返回第 index 个流；下标越界时返回 nil。
func (s *Snapshot) Reader(index int) io.Reader {
	if index < 0 || index >= len(s.files) {
		return nil
	}
	return s.files[index]
}

// Length 返回第 index 个流在提交时记录的字节数。
func (s *Snapshot) Length(index int) int64 {
	if index < 0 || index >= len(s.lengths) {
		return 0
	}
	return s.lengths[index]
}

// Close 关闭全部流文件，重复调用是安全的。
func (s *Snapshot) Close() error {
	var errs []error
	for i, f := range s.files {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
		s.files[i] = nil
	}
	return errors.Join(errs...)
}
