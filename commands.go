package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/any-hub/objcache/internal/cache"
)

const usage = `用法: objcache [-config path] [-check-config] [-version] <command> [args]
  put <key> <value> [name=value...]
  get <key>
  contains <key>
  remove <key>
`

type command struct {
	minArgs int
	maxArgs int // -1 表示不限
	run     func(store *cache.Cache[string], args []string) int
}

var commands = map[string]command{
	"put":      {minArgs: 2, maxArgs: -1, run: runPut},
	"get":      {minArgs: 1, maxArgs: 1, run: runGet},
	"contains": {minArgs: 1, maxArgs: 1, run: runContains},
	"remove":   {minArgs: 1, maxArgs: 1, run: runRemove},
}

func runPut(store *cache.Cache[string], args []string) int {
	md, err := parseMetadata(args[2:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		return exitUsage
	}
	if err := store.PutWithMetadata(args[0], args[1], md); err != nil {
		fmt.Fprintf(stdErr, "写入失败: %v\n", err)
		return exitFailure
	}
	return exitOK
}

func runGet(store *cache.Cache[string], args []string) int {
	entry, ok, err := store.Read(args[0])
	if err != nil {
		fmt.Fprintf(stdErr, "读取失败: %v\n", err)
		return exitFailure
	}
	if !ok {
		return exitAbsent
	}

	fmt.Fprintln(stdOut, entry.Value)
	names := make([]string, 0, len(entry.Metadata))
	for name := range entry.Metadata {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(stdOut, "%s=%v\n", name, entry.Metadata[name])
	}
	return exitOK
}

func runContains(store *cache.Cache[string], args []string) int {
	ok, err := store.Contains(args[0])
	if err != nil {
		fmt.Fprintf(stdErr, "查询失败: %v\n", err)
		return exitFailure
	}
	fmt.Fprintln(stdOut, ok)
	if !ok {
		return exitAbsent
	}
	return exitOK
}

func runRemove(store *cache.Cache[string], args []string) int {
	removed, err := store.Remove(args[0])
	if err != nil {
		fmt.Fprintf(stdErr, "删除失败: %v\n", err)
		return exitFailure
	}
	if !removed {
		return exitAbsent
	}
	return exitOK
}

// parseMetadata 将 name=value 参数解析为元数据，值一律按字符串保存。
func parseMetadata(pairs []string) (cache.Metadata, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	md := make(cache.Metadata, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("元数据格式应为 name=value: %q", pair)
		}
		md[name] = value
	}
	return md, nil
}
