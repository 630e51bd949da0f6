package jsonutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFuzzyParseStrict(t *testing.T) {
	m := FuzzyParse(`{"temperature": 100}`)
	assert.Equal(t, map[string]any{"temperature": float64(100)}, m)
}

func TestFuzzyParseUnclosedBrace(t *testing.T) {
	m := FuzzyParse(`{"temperature": 100`)
	assert.Equal(t, map[string]any{"temperature": float64(100)}, m)
}

func TestFuzzyParseUnquotedKeys(t *testing.T) {
	m := FuzzyParse(`{temperature: 100}`)
	assert.Equal(t, map[string]any{"temperature": float64(100)}, m)
}

func TestFuzzyParseSingleQuotes(t *testing.T) {
	m := FuzzyParse(`{'city': 'Oslo'}`)
	assert.Equal(t, map[string]any{"city": "Oslo"}, m)
}

func TestFuzzyParseTrailingComma(t *testing.T) {
	m := FuzzyParse(`{"a": 1, "b": 2,}`)
	assert.Equal(t, map[string]any{"a": float64(1), "b": float64(2)}, m)
}

func TestFuzzyParseNested(t *testing.T) {
	m := FuzzyParse(`{source: "cell", lines: ["a", "b"`)
	assert.Equal(t, map[string]any{"source": "cell", "lines": []any{"a", "b"}}, m)
}

func TestFuzzyParseGarbage(t *testing.T) {
	assert.Nil(t, FuzzyParse("not json at all"))
	assert.Nil(t, FuzzyParse(""))
}

func TestParseJSONInvalid(t *testing.T) {
	assert.Nil(t, ParseJSON("{"))
}

func TestMustJSON(t *testing.T) {
	assert.Equal(t, `{"x":1}`, MustJSON(map[string]int{"x": 1}))
	assert.Equal(t, "{}", MustJSON(nil))
}
