package encoding

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type samplePayload struct {
	Table string         `msgpack:"table"`
	Row   map[string]any `msgpack:"row"`
}

func TestUnmarshal_StringsStayStrings(t *testing.T) {
	data, err := Marshal(map[string]interface{}{"project_id": "p1"})
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, Unmarshal(data, &out))

	_, isString := out["project_id"].(string)
	assert.True(t, isString, "expected string, got %T", out["project_id"])
}

func TestEncodeDecode_Uncompressed(t *testing.T) {
	in := samplePayload{Table: "tasks", Row: map[string]any{"id": "t1", "done": true}}

	data, err := Encode(in, false)
	require.NoError(t, err)
	assert.False(t, IsCompressed(data))

	var out samplePayload
	require.NoError(t, Decode(data, &out))
	assert.Equal(t, "tasks", out.Table)
	assert.Equal(t, "t1", out.Row["id"])
	assert.Equal(t, true, out.Row["done"])
}

func TestEncodeDecode_Compressed(t *testing.T) {
	notes := strings.Repeat("pour footing, inspect rebar; ", 200)
	in := samplePayload{Table: "documents", Row: map[string]any{"notes": notes}}

	plain, err := Encode(in, false)
	require.NoError(t, err)
	packed, err := Encode(in, true)
	require.NoError(t, err)

	assert.True(t, IsCompressed(packed))
	assert.Less(t, len(packed), len(plain))

	var out samplePayload
	require.NoError(t, Decode(packed, &out))
	assert.Equal(t, notes, out.Row["notes"])
}

func TestDecompress_Garbage(t *testing.T) {
	_, err := Decompress(append([]byte{0x28, 0xb5, 0x2f, 0xfd}, 0x00, 0x01))
	assert.Error(t, err)
}

func TestEncode_Concurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data, err := Encode(samplePayload{Table: "tasks", Row: map[string]any{"n": i}}, true)
			if !assert.NoError(t, err) {
				return
			}
			var out samplePayload
			assert.NoError(t, Decode(data, &out))
		}(i)
	}
	wg.Wait()
}
