package resolve

import "strings"

// Evaluate resolves token references inside a condition expression and
// evaluates it. Supported forms, checked in order:
//
//	left == right   equality after trimming whitespace and quotes
//	left != right   inequality with the same trimming
//	anything else   truthiness: non-empty and not "false"
//
// Evaluation fails closed: anything unevaluable yields false.
func Evaluate(expr string, rc Context) (result bool) {
	defer func() {
		if recover() != nil {
			result = false
		}
	}()

	resolved := String(expr, rc)

	if left, right, ok := splitOperator(resolved, "=="); ok {
		return trimOperand(left) == trimOperand(right)
	}
	if left, right, ok := splitOperator(resolved, "!="); ok {
		return trimOperand(left) != trimOperand(right)
	}

	t := strings.ToLower(strings.TrimSpace(resolved))
	return t != "" && t != "false"
}

func splitOperator(s, op string) (left, right string, ok bool) {
	idx := strings.Index(s, op)
	if idx < 0 {
		return "", "", false
	}
	return s[:idx], s[idx+len(op):], true
}

// trimOperand strips whitespace and surrounding quote characters so
// "ready" and 'ready' and ready all compare equal.
func trimOperand(s string) string {
	return strings.Trim(strings.TrimSpace(s), `"'`)
}
