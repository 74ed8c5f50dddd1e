package memo

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// Counted wraps fn so every call increments the access counter for op,
// whether or not fn succeeds.
// @group Tracking
//
// Example: count calls
//
//	ctx := context.Background()
//	c := memo.NewCache(memo.NewMemoryStore(ctx))
//	double := memo.Counted(c, "double", func(_ context.Context, n int) (int, error) { return n * 2, nil })
//	_, _ = double(ctx, 2)
//	n, _ := c.AccessCount(ctx, "double")
//	fmt.Println(n) // 1
func Counted[In, Out any](c *Cache, op string, fn func(context.Context, In) (Out, error)) func(context.Context, In) (Out, error) {
	return func(ctx context.Context, in In) (Out, error) {
		if _, err := c.Count(ctx, op); err != nil {
			var zero Out
			return zero, err
		}
		return fn(ctx, in)
	}
}

// Recorded wraps fn so successful calls are counted and appended to the op
// history with their input and output. Failed calls are only counted.
func Recorded[In, Out any](c *Cache, op string, fn func(context.Context, In) (Out, error)) func(context.Context, In) (Out, error) {
	return func(ctx context.Context, in In) (Out, error) {
		out, err := fn(ctx, in)
		if err != nil {
			if _, cerr := c.Count(ctx, op); cerr != nil {
				return out, cerr
			}
			return out, err
		}
		if err := c.RecordCall(ctx, op, []any{in}, out); err != nil {
			return out, err
		}
		return out, nil
	}
}

// FormatValue prints v the way call histories store it: text in single
// quotes, nil as None, booleans as True/False, everything else with its
// default format.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case bool:
		if x {
			return "True"
		}
		return "False"
	case string:
		return quoteText(x, false)
	case []byte:
		return "b" + quoteText(string(x), true)
	case fmt.Stringer:
		return quoteText(x.String(), false)
	case error:
		return quoteText(x.Error(), false)
	default:
		return fmt.Sprint(v)
	}
}

// quoteText wraps s in single quotes, switching to double quotes when s holds
// a single quote and no double quote. With raw set, s is treated as bytes and
// anything outside printable ASCII is escaped.
func quoteText(s string, raw bool) string {
	quote := byte('\'')
	if strings.IndexByte(s, '\'') >= 0 && strings.IndexByte(s, '"') < 0 {
		quote = '"'
	}
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte(quote)
	write := func(r rune, printable bool) {
		switch {
		case r == rune(quote) || r == '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case printable:
			b.WriteRune(r)
		case r < 0x100:
			fmt.Fprintf(&b, `\x%02x`, r)
		case r < 0x10000:
			fmt.Fprintf(&b, `\u%04x`, r)
		default:
			fmt.Fprintf(&b, `\U%08x`, r)
		}
	}
	if raw {
		for i := 0; i < len(s); i++ {
			c := s[i]
			write(rune(c), c >= 0x20 && c < 0x7f)
		}
	} else {
		for _, r := range s {
			write(r, unicode.IsPrint(r))
		}
	}
	b.WriteByte(quote)
	return b.String()
}

// formatTuple renders already formatted inputs as a parenthesized list. A
// single element keeps a trailing comma so it reads as a sequence: (1,).
func formatTuple(items []string) string {
	switch len(items) {
	case 0:
		return "()"
	case 1:
		return "(" + items[0] + ",)"
	default:
		return "(" + strings.Join(items, ", ") + ")"
	}
}
