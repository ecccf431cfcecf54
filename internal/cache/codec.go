package cache

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// 每条记录在引擎中的流布局。
const (
	markerStream   = 0
	valueStream    = 1
	metadataStream = 2
	streamCount    = 3
)

// Codec 负责值与元数据的字节编码。Decode 的 v 总是指向目标类型的指针。
type Codec interface {
	Name() string
	Encode(w io.Writer, v any) error
	Decode(r io.Reader, v any) error
}

// GobCodec 使用 encoding/gob，是默认编码。元数据中出现的自定义类型需先 gob.Register。
type GobCodec struct{}

func (GobCodec) Name() string { return "gob" }

func (GobCodec) Encode(w io.Writer, v any) error { return gob.NewEncoder(w).Encode(v) }

func (GobCodec) Decode(r io.Reader, v any) error { return gob.NewDecoder(r).Decode(v) }

// JSONCodec 使用 encoding/json。元数据中的数字解码后为 float64。
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Encode(w io.Writer, v any) error { return json.NewEncoder(w).Encode(v) }

func (JSONCodec) Decode(r io.Reader, v any) error { return json.NewDecoder(r).Decode(v) }

// CodecByName 根据配置名称返回编码器，空字符串表示默认的 gob。
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "gob":
		return GobCodec{}, nil
	case "json":
		return JSONCodec{}, nil
	default:
		return nil, fmt.Errorf("unsupported codec %q", name)
	}
}

// valueRecord/metadataRecord 为编码提供固定外层结构，nil 值与空 map 也能被编码。
type valueRecord[V any] struct {
	Value V
}

type metadataRecord struct {
	Fields Metadata
}

// ioErrWriter/ioErrReader 记录底层流的 I/O 错误，用于区分编码错误与流错误。
type ioErrWriter struct {
	w   io.Writer
	err error
}

func (w *ioErrWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	if err != nil && w.err == nil {
		w.err = err
	}
	return n, err
}

type ioErrReader struct {
	r   io.Reader
	err error
}

func (r *ioErrReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) && r.err == nil {
		r.err = err
	}
	return n, err
}

// encodeStream 在 index 流上打开独立的缓冲通道写入 v，返回前保证通道已关闭。
// 已有主错误时，关闭错误只记录日志。
func encodeStream(ed Editor, index int, codec Codec, v any, logger logrus.FieldLogger) (err error) {
	raw, err := ed.NewWriter(index)
	if err != nil {
		return fmt.Errorf("%w: open stream %d: %w", ErrStreamIO, index, err)
	}
	defer func() {
		closeErr := raw.Close()
		if closeErr == nil {
			return
		}
		if err != nil {
			logger.WithError(closeErr).WithField("stream", index).Warn("close stream after failure")
			return
		}
		err = fmt.Errorf("%w: close stream %d: %w", ErrStreamIO, index, closeErr)
	}()

	tracked := &ioErrWriter{w: raw}
	buf := bufio.NewWriter(tracked)
	if err := codec.Encode(buf, v); err != nil {
		if tracked.err != nil {
			return fmt.Errorf("%w: stream %d: %w", ErrStreamIO, index, tracked.err)
		}
		return fmt.Errorf("%w: stream %d: %w", ErrSerialization, index, err)
	}
	if err := buf.Flush(); err != nil {
		return fmt.Errorf("%w: flush stream %d: %w", ErrStreamIO, index, err)
	}
	return nil
}

// decodeStream 从快照的 index 流解码到 v。
func decodeStream(s Snapshot, index int, codec Codec, v any) error {
	r := s.Reader(index)
	if r == nil {
		return fmt.Errorf("%w: stream %d unavailable", ErrDeserialization, index)
	}
	tracked := &ioErrReader{r: r}
	if err := codec.Decode(bufio.NewReader(tracked), v); err != nil {
		if tracked.err != nil {
			return fmt.Errorf("%w: stream %d: %w", ErrStreamIO, index, tracked.err)
		}
		return fmt.Errorf("%w: stream %d: %w", ErrDeserialization, index, err)
	}
	return nil
}

func writeValue[V any](ed Editor, codec Codec, value V, logger logrus.FieldLogger) error {
	return encodeStream(ed, valueStream, codec, valueRecord[V]{Value: value}, logger)
}

func writeMetadata(ed Editor, codec Codec, md Metadata, logger logrus.FieldLogger) error {
	return encodeStream(ed, metadataStream, codec, metadataRecord{Fields: md}, logger)
}

func readValue[V any](s Snapshot, codec Codec) (V, error) {
	var rec valueRecord[V]
	err := decodeStream(s, valueStream, codec, &rec)
	return rec.Value, err
}

func readMetadata(s Snapshot, codec Codec) (Metadata, error) {
	var rec metadataRecord
	if err := decodeStream(s, metadataStream, codec, &rec); err != nil {
		return nil, err
	}
	if rec.Fields == nil {
		return Metadata{}, nil
	}
	return rec.Fields, nil
}
