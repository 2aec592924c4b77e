package pairs

import (
	"regexp"
	"strconv"
	"strings"
)

// List is an ordered attribute list. The zero value is ready to use.
// Attribute names are matched case-insensitively.
type List []Pair

func (l List) Find(name string) (Pair, bool) {
	for _, p := range l {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Pair{}, false
}

func (l List) FindAll(name string) []Pair {
	var found []Pair
	for _, p := range l {
		if strings.EqualFold(p.Name, name) {
			found = append(found, p)
		}
	}
	return found
}

// Value returns the first value of name or "".
func (l List) Value(name string) string {
	p, _ := l.Find(name)
	return p.Value
}

func (l List) Has(name string) bool {
	_, ok := l.Find(name)
	return ok
}

func (l *List) Add(p Pair) {
	*l = append(*l, p)
}

// Set replaces all pairs of name with a single pair.
func (l *List) Set(name, value string) {
	l.Delete(name)
	l.Add(New(name, value))
}

func (l *List) Delete(name string) {
	out := (*l)[:0]
	for _, p := range *l {
		if !strings.EqualFold(p.Name, name) {
			out = append(out, p)
		}
	}
	*l = out
}

func (l *List) deleteValue(name, value string) {
	out := (*l)[:0]
	for _, p := range *l {
		if !strings.EqualFold(p.Name, name) || p.Value != value {
			out = append(out, p)
		}
	}
	*l = out
}

// Move applies from onto l honouring each pair's operator.
func (l *List) Move(from List) {
	for _, p := range from {
		switch p.Operator() {
		case OpSet:
			l.Delete(p.Name)
			l.Add(Pair{Name: p.Name, Op: OpEq, Value: p.Value})
		case OpEq:
			if !l.Has(p.Name) {
				l.Add(p)
			}
		case OpAdd:
			l.Add(Pair{Name: p.Name, Op: OpEq, Value: p.Value})
		case OpSub:
			l.deleteValue(p.Name, p.Value)
		default:
			l.Add(p)
		}
	}
}

func (l List) Copy() List {
	if l == nil {
		return nil
	}
	c := make(List, len(l))
	copy(c, l)
	return c
}

// Map returns the first value of every attribute.
func (l List) Map() map[string]string {
	m := make(map[string]string, len(l))
	for _, p := range l {
		if _, ok := m[p.Name]; !ok {
			m[p.Name] = p.Value
		}
	}
	return m
}

// Check evaluates a check item against l. Assignment operators behave as ==.
func (l List) Check(check Pair) (bool, error) {
	op := check.Operator()
	switch op {
	case OpPresent:
		return l.Has(check.Name), nil
	case OpAbsent:
		return !l.Has(check.Name), nil
	}
	values := l.FindAll(check.Name)
	if len(values) == 0 {
		return op == OpNe || op == OpRegNoMatch, nil
	}
	var re *regexp.Regexp
	if op == OpRegMatch || op == OpRegNoMatch {
		var err error
		re, err = regexp.Compile(check.Value)
		if err != nil {
			return false, err
		}
	}
	for _, v := range values {
		if compare(op, v.Value, check.Value, re) {
			return true, nil
		}
	}
	return false, nil
}

func compare(op Operator, have, want string, re *regexp.Regexp) bool {
	switch op {
	case OpNe:
		return have != want
	case OpRegMatch:
		return re.MatchString(have)
	case OpRegNoMatch:
		return !re.MatchString(have)
	case OpGt, OpGe, OpLt, OpLe:
		h, err1 := strconv.ParseFloat(have, 64)
		w, err2 := strconv.ParseFloat(want, 64)
		if err1 != nil || err2 != nil {
			return ordered(op, compareStrings(have, want))
		}
		switch {
		case h < w:
			return ordered(op, -1)
		case h > w:
			return ordered(op, 1)
		}
		return ordered(op, 0)
	default:
		return have == want
	}
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func ordered(op Operator, cmp int) bool {
	switch op {
	case OpGt:
		return cmp > 0
	case OpGe:
		return cmp >= 0
	case OpLt:
		return cmp < 0
	}
	return cmp <= 0
}
