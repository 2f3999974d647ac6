package pay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_SortedKeys(t *testing.T) {
	obj := Object{
		"b": Int(2),
		"a": Int(1),
		"c": String("x"),
	}

	out, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2,"c":"x"}`, string(out))
}

func TestMarshalCanonical_NoHTMLEscaping(t *testing.T) {
	out, err := MarshalCanonical(Object{"k": String("<a>&</a>")})
	require.NoError(t, err)
	assert.Equal(t, `{"k":"<a>&</a>"}`, string(out))
}

func TestMarshalCanonical_RejectsFloats(t *testing.T) {
	_, err := MarshalCanonical(map[string]any{"x": 1.5})
	assert.Error(t, err)
}

func TestMarshalCanonical_RejectsNull(t *testing.T) {
	_, err := MarshalCanonical(map[string]any{"x": nil})
	assert.Error(t, err)
}

func TestMarshalCanonical_NestedStructures(t *testing.T) {
	out, err := MarshalCanonical(map[string]any{
		"list": []any{1, "two", true},
		"obj":  map[string]any{"y": 2, "x": 1},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"list":[1,"two",true],"obj":{"x":1,"y":2}}`, string(out))
}

func TestMarshalCanonical_LineSeparatorsUnescaped(t *testing.T) {
	// RFC 8785: U+2028 must be written verbatim, not escaped.
	out, err := MarshalCanonical(Object{"k": String("a\u2028b")})
	require.NoError(t, err)
	assert.Equal(t, "{\"k\":\"a\u2028b\"}", string(out))
}

func TestMarshalCanonical_EscapedBackslashPreserved(t *testing.T) {
	// A literal backslash followed by the text "u2028" must stay escaped.
	out, err := MarshalCanonical(Object{"k": String("\\u2028")})
	require.NoError(t, err)
	assert.Equal(t, `{"k":"\\u2028"}`, string(out))
}

func TestMarshalCanonical_NFCNormalization(t *testing.T) {
	// e + combining acute accent normalizes to the precomposed form.
	decomposed := "e\u0301"
	precomposed := "\u00e9"

	a, err := MarshalCanonical(Object{"k": String(decomposed)})
	require.NoError(t, err)
	b, err := MarshalCanonical(Object{"k": String(precomposed)})
	require.NoError(t, err)
	assert.Equal(t, string(b), string(a))
}

func TestHashWithDomain_DomainSeparation(t *testing.T) {
	data := []byte(`{"a":1}`)
	assert.NotEqual(t,
		HashWithDomain(DomainPayment, data),
		HashWithDomain(DomainInstance, data),
	)
}

func TestObject_SortedKeys_UTF16Order(t *testing.T) {
	// U+1D306 encodes as surrogate pair 0xD834 0xDF06 and sorts before
	// U+FF01 under UTF-16 code unit order, although its UTF-8 encoding is
	// larger. This is where UTF-8 byte order and RFC 8785 order diverge.
	obj := Object{
		"\U0001D306": Int(1),
		"\uFF01": Int(2),
	}
	keys := obj.SortedKeys()
	require.Len(t, keys, 2)
	assert.Equal(t, "\U0001D306", keys[0])
	assert.Equal(t, "\uFF01", keys[1])
}
