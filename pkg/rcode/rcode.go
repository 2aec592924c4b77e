package rcode

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Code is the result of a module callback.
type Code int

const (
	Reject Code = iota
	Fail
	OK
	Handled
	Invalid
	Userlock
	NotFound
	Noop
	Updated
)

var names = [...]string{
	Reject:   "reject",
	Fail:     "fail",
	OK:       "ok",
	Handled:  "handled",
	Invalid:  "invalid",
	Userlock: "userlock",
	NotFound: "notfound",
	Noop:     "noop",
	Updated:  "updated",
}

const constPrefix = "RLM_MODULE_"

func (c Code) String() string {
	if c.Valid() {
		return names[c]
	}
	return "unknown(" + strconv.Itoa(int(c)) + ")"
}

// ConstName returns the name scripts see, e.g. RLM_MODULE_OK.
func (c Code) ConstName() string {
	return constPrefix + strings.ToUpper(c.String())
}

func (c Code) Valid() bool {
	return c >= Reject && c <= Updated
}

// All returns every code in numeric order.
func All() []Code {
	codes := make([]Code, 0, len(names))
	for i := range names {
		codes = append(codes, Code(i))
	}
	return codes
}

// Parse accepts "ok", "OK" and "RLM_MODULE_OK".
func Parse(s string) (Code, error) {
	n := strings.ToLower(strings.TrimSpace(s))
	n = strings.TrimPrefix(n, strings.ToLower(constPrefix))
	for i, name := range names {
		if name == n {
			return Code(i), nil
		}
	}
	return Fail, errors.Errorf("unknown return code %q", s)
}

// FromInt converts a number returned by a script into a Code.
func FromInt(i int) (Code, error) {
	c := Code(i)
	if !c.Valid() {
		return Fail, errors.Errorf("return code %d out of range", i)
	}
	return c, nil
}

func (c Code) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Code) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
