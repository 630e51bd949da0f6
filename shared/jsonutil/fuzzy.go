package jsonutil

import (
	"encoding/json"
	"strings"
	"unicode"
)

// FuzzyParse parses JSON that language models tend to emit slightly
// malformed: unquoted keys, single quotes, trailing commas, or unclosed
// braces and brackets. Strict parsing is tried first. Returns nil when
// the input cannot be repaired into an object.
func FuzzyParse(s string) map[string]any {
	if m := ParseJSON(s); m != nil {
		return m
	}
	repaired := repair(s)
	var m map[string]any
	if err := json.Unmarshal([]byte(repaired), &m); err != nil {
		return nil
	}
	return m
}

func repair(s string) string {
	var out strings.Builder
	var stack []byte
	inString := false
	quote := byte(0)
	runes := []byte(strings.TrimSpace(s))

	for i := 0; i < len(runes); i++ {
		c := runes[i]
		if inString {
			if c == '\\' && i+1 < len(runes) {
				out.WriteByte(c)
				i++
				out.WriteByte(runes[i])
				continue
			}
			if c == quote {
				inString = false
				out.WriteByte('"')
				continue
			}
			if c == '"' && quote == '\'' {
				out.WriteString(`\"`)
				continue
			}
			out.WriteByte(c)
			continue
		}
		switch c {
		case '"', '\'':
			inString = true
			quote = c
			out.WriteByte('"')
		case '{':
			stack = append(stack, '}')
			out.WriteByte(c)
		case '[':
			stack = append(stack, ']')
			out.WriteByte(c)
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			trimTrailingComma(&out)
			out.WriteByte(c)
		case ',':
			// drop trailing commas before a closer, handled above
			out.WriteByte(c)
		default:
			if isBareKeyStart(c) && expectsKey(out.String()) {
				j := i
				for j < len(runes) && isBareKeyChar(runes[j]) {
					j++
				}
				k := j
				for k < len(runes) && unicode.IsSpace(rune(runes[k])) {
					k++
				}
				if k < len(runes) && runes[k] == ':' {
					out.WriteByte('"')
					out.Write(runes[i:j])
					out.WriteByte('"')
					i = j - 1
					continue
				}
			}
			out.WriteByte(c)
		}
	}
	if inString {
		out.WriteByte('"')
	}
	result := out.String()
	var tail strings.Builder
	tail.WriteString(strings.TrimRight(result, ", \t\n\r"))
	for i := len(stack) - 1; i >= 0; i-- {
		tail.WriteByte(stack[i])
	}
	return tail.String()
}

func trimTrailingComma(out *strings.Builder) {
	s := strings.TrimRight(out.String(), " \t\n\r")
	if strings.HasSuffix(s, ",") {
		trimmed := strings.TrimRight(s[:len(s)-1], " \t\n\r")
		out.Reset()
		out.WriteString(trimmed)
	}
}

func isBareKeyStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isBareKeyChar(c byte) bool {
	return isBareKeyStart(c) || (c >= '0' && c <= '9')
}

// expectsKey reports whether the next token at this point in the output
// would be an object key, based on the last significant byte written.
func expectsKey(written string) bool {
	s := strings.TrimRight(written, " \t\n\r")
	if s == "" {
		return false
	}
	last := s[len(s)-1]
	return last == '{' || last == ','
}
