package cache

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecByName(t *testing.T) {
	for name, want := range map[string]string{"": "gob", "gob": "gob", " JSON ": "json"} {
		codec, err := CodecByName(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, codec.Name())
	}
	_, err := CodecByName("xml")
	require.Error(t, err)
}

func TestCodecsEncodeNilMetadata(t *testing.T) {
	for _, codec := range []Codec{GobCodec{}, JSONCodec{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, codec.Encode(&buf, metadataRecord{}))

			var rec metadataRecord
			require.NoError(t, codec.Decode(&buf, &rec))
			assert.Empty(t, rec.Fields)
		})
	}
}

func TestDecodeTruncatedValue(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, GobCodec{}.Encode(&buf, valueRecord[string]{Value: "hello"}))
	truncated := buf.Bytes()[:buf.Len()/2]

	var rec valueRecord[string]
	err := GobCodec{}.Decode(bytes.NewReader(truncated), &rec)
	require.Error(t, err)
}
