package config

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

var supportedCodecs = map[string]struct{}{
	"gob":  {},
	"json": {},
}

// Validate 针对语义级别做进一步校验，防止非法配置打开缓存。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.MaxSize <= 0 {
		return newFieldError("Global.MaxSize", "必须大于 0")
	}
	if g.SchemaVersion < 0 {
		return newFieldError("Global.SchemaVersion", "不能为负数")
	}
	if _, ok := supportedCodecs[g.Codec]; !ok {
		return newFieldError("Global.Codec", "仅支持 gob/json")
	}
	if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
		return newFieldError("Global.LogLevel", fmt.Sprintf("无法识别: %s", g.LogLevel))
	}
	if g.LogFormat != "json" && g.LogFormat != "text" {
		return newFieldError("Global.LogFormat", "仅支持 json/text")
	}
	if g.LogMaxSize < 0 || g.LogMaxBackups < 0 {
		return newFieldError("Global.LogMaxSize/LogMaxBackups", "不能为负数")
	}
	return nil
}
