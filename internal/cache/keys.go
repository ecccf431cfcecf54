package cache

import (
	"crypto/md5"
	"encoding/hex"
)

// InternalKey 将任意外部 key 映射为 32 位小写十六进制串，满足引擎的 key 字符集。
// 直接对字符串的原始字节求 MD5，因此对任意输入（包括非法 UTF-8）都有定义且跨进程稳定。
func InternalKey(external string) string {
	sum := md5.Sum([]byte(external))
	return hex.EncodeToString(sum[:])
}
