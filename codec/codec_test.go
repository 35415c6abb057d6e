package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByName(t *testing.T) {
	c, ok := ByName("json")
	require.True(t, ok)
	assert.Equal(t, "json", c.Name())

	c, ok = ByName("go-json")
	require.True(t, ok)
	assert.Equal(t, "go-json", c.Name())

	_, ok = ByName("msgpack")
	assert.False(t, ok)
}

func TestCodecsAreWireCompatible(t *testing.T) {
	type record struct {
		ID    string  `json:"id"`
		Score float32 `json:"score"`
	}

	in := record{ID: "doc.txt#0-512", Score: 0.91}

	data := MustMarshal(JSON{}, in)

	var out record
	require.NoError(t, GoJSON{}.Unmarshal(data, &out))
	assert.Equal(t, in, out)

	data = MustMarshal(GoJSON{}, in)
	out = record{}
	require.NoError(t, JSON{}.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}
