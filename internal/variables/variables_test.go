package variables

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct{ n int64 }

func (c *counter) Next() any {
	c.n++
	return c.n
}

func TestParseType(t *testing.T) {
	tests := map[string]Type{
		"int": TypeInt, "LONG": TypeInt, "float": TypeFloat, "double": TypeFloat,
		"": TypeString, "varchar": TypeString, " string ": TypeString,
	}
	for in, want := range tests {
		got, err := ParseType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseType("blob")
	require.Error(t, err)
}

func TestCoerce(t *testing.T) {
	v, err := TypeInt.Coerce(" 42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	v, err = TypeFloat.Coerce(3)
	require.NoError(t, err)
	assert.Equal(t, 3.0, v)

	v, err = TypeString.Coerce(int64(7))
	require.NoError(t, err)
	assert.Equal(t, "7", v)

	_, err = TypeInt.Coerce("x")
	require.Error(t, err)
	_, err = TypeInt.Coerce(true)
	require.Error(t, err)
	_, err = TypeString.Coerce(nil)
	require.Error(t, err)
}

func TestCompare(t *testing.T) {
	cmp, err := TypeInt.Compare("10", int64(9))
	require.NoError(t, err)
	assert.Equal(t, 1, cmp)

	cmp, err = TypeString.Compare("10", "9")
	require.NoError(t, err)
	assert.Equal(t, -1, cmp)

	cmp, err = TypeFloat.Compare(1.5, "1.5")
	require.NoError(t, err)
	assert.Equal(t, 0, cmp)
}

func TestSampleScopeRoll(t *testing.T) {
	s := NewSampleScope("users")
	require.NoError(t, s.Add("id", TypeInt, &counter{}))
	require.Error(t, s.Add("id", TypeInt, &counter{}))
	require.Error(t, s.Add("other", TypeInt, nil))

	assert.False(t, s.Variable("id").IsSet())
	s.Roll()
	assert.Equal(t, int64(1), s.Variable("id").Value)
	s.Roll()
	assert.Equal(t, int64(2), s.Variable("id").Value)
	assert.Equal(t, []string{"id"}, s.Names())
	assert.Nil(t, s.Variable("nope"))
}

func TestFrameShadowsParent(t *testing.T) {
	parent := NewSampleScope("p")
	require.NoError(t, parent.Add("a", TypeInt, &counter{}))
	require.NoError(t, parent.Add("b", TypeInt, &counter{}))
	parent.Roll()

	f := NewFrame(parent)
	f.Set("b", TypeString, "local")
	f.Set("c", TypeInt, int64(3))

	assert.Equal(t, int64(1), f.Variable("a").Value)
	assert.Equal(t, "local", f.Variable("b").Value)
	assert.Equal(t, int64(1), parent.Variable("b").Value)
	assert.Equal(t, []string{"a", "b", "c"}, f.Names())
	assert.Equal(t, map[string]any{"a": int64(1), "b": "local", "c": int64(3)}, Snapshot(f))
}

func TestResolve(t *testing.T) {
	s := NewSampleScope("s")
	require.NoError(t, s.Add("x", TypeInt, &counter{}))

	_, err := Resolve(s, "x")
	var unresolved *UnresolvedError
	require.True(t, errors.As(err, &unresolved), "declared but unrolled variable is unresolved")

	s.Roll()
	v, err := Resolve(s, "x")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.Value)

	_, err = Resolve(nil, "x")
	require.Error(t, err)
}

func TestExpand(t *testing.T) {
	f := NewFrame(nil)
	f.Set("user", TypeString, "bob")
	f.Set("id", TypeInt, int64(9))

	out, err := Expand("u={{user}}&id={{ id }}", f)
	require.NoError(t, err)
	assert.Equal(t, "u=bob&id=9", out)

	out, err = Expand("plain", f)
	require.NoError(t, err)
	assert.Equal(t, "plain", out)

	_, err = Expand("{{missing}}", f)
	require.Error(t, err)
	_, err = Expand("{{user", f)
	require.ErrorContains(t, err, "unterminated")
}
