package disklru

import (
	"container/list"
	"fmt"
	"strconv"
)

// entry 是索引中的单个条目，lengths 记录每个已提交流的字节数。
type entry struct {
	key     string
	lengths []int64
	// readable 表示该条目至少成功提交过一次。
	readable bool
	editor   *Editor
	elem     *list.Element
}

func newEntry(key string, valueCount int) *entry {
	return &entry{key: key, lengths: make([]int64, valueCount)}
}

func (e *entry) size() int64 {
	var total int64
	for _, l := range e.lengths {
		total += l
	}
	return total
}

func (e *entry) cleanFile(i int) string {
	return e.key + "." + strconv.Itoa(i)
}

func (e *entry) dirtyFile(i int) string {
	return e.key + "." + strconv.Itoa(i) + ".tmp"
}

func (e *entry) lengthFields() string {
	out := ""
	for _, l := range e.lengths {
		out += " " + strconv.FormatInt(l, 10)
	}
	return out
}

func (e *entry) setLengths(fields []string) error {
	if len(fields) != len(e.lengths) {
		return fmt.Errorf("%w: expected %d lengths, got %d", ErrCorruptJournal, len(e.lengths), len(fields))
	}
	for i, f := range fields {
		n, err := strconv.ParseInt(f, 10, 64)
		if err != nil || n < 0 {
			return fmt.Errorf("%w: bad length %q", ErrCorruptJournal, f)
		}
		e.lengths[i] = n
	}
	return nil
}
