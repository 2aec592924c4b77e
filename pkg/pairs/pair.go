package pairs

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type Operator string

const (
	OpSet        Operator = ":="
	OpEq         Operator = "="
	OpAdd        Operator = "+="
	OpSub        Operator = "-="
	OpCmpEq      Operator = "=="
	OpNe         Operator = "!="
	OpGt         Operator = ">"
	OpGe         Operator = ">="
	OpLt         Operator = "<"
	OpLe         Operator = "<="
	OpRegMatch   Operator = "=~"
	OpRegNoMatch Operator = "!~"
	OpPresent    Operator = "=*"
	OpAbsent     Operator = "!*"
)

var ErrInvalidOperator = errors.New("invalid operator")

var operators = map[Operator]bool{
	OpSet: true, OpEq: true, OpAdd: true, OpSub: true,
	OpCmpEq: true, OpNe: true, OpGt: true, OpGe: true, OpLt: true, OpLe: true,
	OpRegMatch: true, OpRegNoMatch: true, OpPresent: true, OpAbsent: true,
}

func ParseOperator(s string) (Operator, error) {
	op := Operator(strings.TrimSpace(s))
	if !operators[op] {
		return "", errors.Wrapf(ErrInvalidOperator, "%q", s)
	}
	return op, nil
}

// IsCheck reports whether the operator compares rather than assigns.
func (op Operator) IsCheck() bool {
	switch op {
	case OpCmpEq, OpNe, OpGt, OpGe, OpLt, OpLe, OpRegMatch, OpRegNoMatch, OpPresent, OpAbsent:
		return true
	}
	return false
}

// Pair is a single attribute-value pair.
type Pair struct {
	Name  string   `json:"name" mapstructure:"name"`
	Op    Operator `json:"op,omitempty" mapstructure:"op"`
	Value string   `json:"value" mapstructure:"value"`
}

func New(name, value string) Pair {
	return Pair{Name: name, Op: OpEq, Value: value}
}

func NewWithOp(name string, op Operator, value string) Pair {
	return Pair{Name: name, Op: op, Value: value}
}

func (p Pair) Operator() Operator {
	if p.Op == "" {
		return OpEq
	}
	return p.Op
}

func (p Pair) String() string {
	return fmt.Sprintf("%s %s %q", p.Name, p.Operator(), p.Value)
}

// Parse reads a pair written as `Name op Value`. The value may be double quoted.
func Parse(s string) (Pair, error) {
	fields := strings.Fields(s)
	if len(fields) < 3 {
		return Pair{}, errors.Errorf("pair %q must be written as 'Name op Value'", s)
	}
	op, err := ParseOperator(fields[1])
	if err != nil {
		return Pair{}, err
	}
	nameEnd := strings.Index(s, fields[0]) + len(fields[0])
	opEnd := nameEnd + strings.Index(s[nameEnd:], fields[1]) + len(fields[1])
	rest := strings.TrimSpace(s[opEnd:])
	if unq, err := strconv.Unquote(rest); err == nil {
		rest = unq
	}
	return Pair{Name: fields[0], Op: op, Value: rest}, nil
}

// Octets decodes a 0x-prefixed hex value. Other values are returned as raw bytes.
func Octets(v string) ([]byte, error) {
	if strings.HasPrefix(v, "0x") || strings.HasPrefix(v, "0X") {
		b, err := hex.DecodeString(v[2:])
		if err != nil {
			return nil, errors.Wrap(err, "bad octets value")
		}
		return b, nil
	}
	return []byte(v), nil
}

func FromOctets(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

func Uint32(v string) (uint32, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "bad integer value %q", v)
	}
	return uint32(n), nil
}

func FromUint32(n uint32) string {
	return strconv.FormatUint(uint64(n), 10)
}

// Uint32FromOctets reads a big-endian uint32 from the first 4 octets.
func Uint32FromOctets(b []byte) uint32 {
	if len(b) < 4 {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}
