package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// EntryFields 提供外部 key、内部 key 与写事务 id 字段，供缓存读写日志复用。
// txn 为空时不输出 txn 字段。
func EntryFields(key, internalKey, txn string) logrus.Fields {
	fields := logrus.Fields{
		"key":          key,
		"internal_key": internalKey,
	}
	if txn != "" {
		fields["txn"] = txn
	}
	return fields
}
