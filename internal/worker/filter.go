package worker

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// KeyFilter decides whether a raw store key names a dispatchable record.
// Implementations must be pure and total.
type KeyFilter interface {
	Eligible(key string) bool
	String() string
}

// AnyKey accepts every non-empty key.
type AnyKey struct{}

func (AnyKey) Eligible(key string) bool { return key != "" }
func (AnyKey) String() string           { return "any" }

// DigitsKey accepts keys made of exactly Length ASCII digits, e.g. phone numbers.
type DigitsKey struct {
	Length int
}

func (f DigitsKey) Eligible(key string) bool {
	if len(key) != f.Length {
		return false
	}
	for i := 0; i < len(key); i++ {
		if key[i] < '0' || key[i] > '9' {
			return false
		}
	}
	return true
}

func (f DigitsKey) String() string { return "digits:" + strconv.Itoa(f.Length) }

// PatternKey accepts keys fully matching a regular expression.
type PatternKey struct {
	re *regexp.Regexp
}

func (f PatternKey) Eligible(key string) bool { return f.re.MatchString(key) }
func (f PatternKey) String() string           { return "regexp:" + f.re.String() }

// ParseKeyFilter builds a filter from its config form:
//
//	""/"any"        every key
//	"digits:N"      exactly N digits
//	"regexp:EXPR"   EXPR must match the whole key
func ParseKeyFilter(spec string) (KeyFilter, error) {
	s := strings.TrimSpace(spec)
	low := strings.ToLower(s)
	switch {
	case s == "" || low == "any" || s == "*":
		return AnyKey{}, nil
	case strings.HasPrefix(low, "digits:"):
		n, err := strconv.Atoi(strings.TrimSpace(s[len("digits:"):]))
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid key filter %q: digits length must be a positive integer", spec)
		}
		return DigitsKey{Length: n}, nil
	case strings.HasPrefix(low, "regexp:"):
		expr := strings.TrimSpace(s[len("regexp:"):])
		if expr == "" {
			return nil, fmt.Errorf("invalid key filter %q: empty expression", spec)
		}
		re, err := regexp.Compile(`^(?:` + expr + `)$`)
		if err != nil {
			return nil, fmt.Errorf("invalid key filter %q: %w", spec, err)
		}
		return PatternKey{re: re}, nil
	default:
		return nil, fmt.Errorf("invalid key filter %q (use any, digits:N or regexp:EXPR)", spec)
	}
}
