package disklru

import "errors"

var (
	// ErrNotFound 表示条目不存在或其某个流文件已丢失。
	ErrNotFound = errors.New("disklru: entry not found")
	// ErrEditInProgress 表示同一 key 已有未完成的 Editor。
	ErrEditInProgress = errors.New("disklru: edit already in progress")
	// ErrInvalidKey 表示 key 不满足 [a-z0-9_-]{1,120}。
	ErrInvalidKey = errors.New("disklru: invalid key")
	// ErrInvalidIndex 表示流下标超出 ValueCount。
	ErrInvalidIndex = errors.New("disklru: stream index out of range")
	// ErrIncompleteEntry 表示新建条目提交时缺少部分流。
	ErrIncompleteEntry = errors.New("disklru: new entry did not write every stream")
	// ErrStreamFailed 表示某个流写入出错，提交被转为回滚。
	ErrStreamFailed = errors.New("disklru: stream write failed, edit aborted")
	// ErrEditorClosed 表示 Editor 已经提交或回滚。
	ErrEditorClosed = errors.New("disklru: editor already completed")
	// ErrCorruptJournal 表示 journal 中存在无法解析的完整行。
	ErrCorruptJournal = errors.New("disklru: corrupt journal")
	// ErrClosed 表示缓存已关闭。
	ErrClosed = errors.New("disklru: cache closed")
)
