package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ByteSize 表示字节容量，兼容纯整数与带单位的写法（如 "512KiB"、"1MB"）。
type ByteSize int64

var byteUnits = map[string]int64{
	"":    1,
	"b":   1,
	"kb":  1000,
	"mb":  1000 * 1000,
	"gb":  1000 * 1000 * 1000,
	"kib": 1 << 10,
	"mib": 1 << 20,
	"gib": 1 << 30,
}

// UnmarshalText 使 Viper 可以识别诸如 "64MiB"、"1GB" 或纯数字字节值等配置写法。
func (b *ByteSize) UnmarshalText(text []byte) error {
	parsed, err := parseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// Int64 返回字节数，便于调用方计算。
func (b ByteSize) Int64() int64 {
	return int64(b)
}

func parseByteSize(raw string) (ByteSize, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}

	split := len(raw)
	for i, r := range raw {
		if (r < '0' || r > '9') && r != '.' {
			split = i
			break
		}
	}
	number := raw[:split]
	unit := strings.ToLower(strings.TrimSpace(raw[split:]))

	multiplier, ok := byteUnits[unit]
	if !ok || number == "" {
		return 0, fmt.Errorf("invalid byte size value: %s", raw)
	}
	if intVal, err := strconv.ParseInt(number, 10, 64); err == nil {
		return ByteSize(intVal * multiplier), nil
	}
	floatVal, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size value: %s", raw)
	}
	return ByteSize(floatVal * float64(multiplier)), nil
}

// GlobalConfig 描述缓存目录、容量、编码与日志行为。
type GlobalConfig struct {
	LogLevel      string   `mapstructure:"LogLevel"`
	LogFormat     string   `mapstructure:"LogFormat"`
	LogFilePath   string   `mapstructure:"LogFilePath"`
	LogMaxSize    int      `mapstructure:"LogMaxSize"`
	LogMaxBackups int      `mapstructure:"LogMaxBackups"`
	LogCompress   bool     `mapstructure:"LogCompress"`
	StoragePath   string   `mapstructure:"StoragePath"`
	SchemaVersion int      `mapstructure:"SchemaVersion"`
	MaxSize       ByteSize `mapstructure:"MaxSize"`
	Codec         string   `mapstructure:"Codec"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
}
