package modules

import (
	"math"
	"strconv"

	"github.com/maximthomas/goradius/pkg/pairs"
	"github.com/maximthomas/goradius/pkg/rcode"
	"github.com/pkg/errors"
	lua "github.com/yuin/gopher-lua"
)

var ErrMalformedResult = errors.New("malformed callback result")

// scriptResult is a decoded callback return value: a code, or
// {code, reply_pairs} or {code, reply_pairs, control_pairs}.
type scriptResult struct {
	Code    rcode.Code
	Reply   pairs.List
	Control pairs.List
}

func decodeResult(v lua.LValue) (scriptResult, error) {
	res := scriptResult{Code: rcode.Fail}
	switch val := v.(type) {
	case *lua.LNilType:
		res.Code = rcode.Noop
		return res, nil
	case lua.LNumber:
		c, err := codeFromNumber(val)
		if err != nil {
			return res, err
		}
		res.Code = c
		return res, nil
	case *lua.LTable:
		n := val.Len()
		if n < 1 || n > 3 {
			return res, errors.Wrapf(ErrMalformedResult, "expected 1 to 3 elements, got %d", n)
		}
		num, ok := val.RawGetInt(1).(lua.LNumber)
		if !ok {
			return res, errors.Wrapf(ErrMalformedResult, "first element must be a return code, got %s", val.RawGetInt(1).Type())
		}
		c, err := codeFromNumber(num)
		if err != nil {
			return res, err
		}
		reply, err := decodePairs(val.RawGetInt(2), "reply")
		if err != nil {
			return res, err
		}
		control, err := decodePairs(val.RawGetInt(3), "control")
		if err != nil {
			return res, err
		}
		return scriptResult{Code: c, Reply: reply, Control: control}, nil
	}
	return res, errors.Wrapf(ErrMalformedResult, "unexpected %s", v.Type())
}

func codeFromNumber(n lua.LNumber) (rcode.Code, error) {
	f := float64(n)
	if f != math.Trunc(f) {
		return rcode.Fail, errors.Wrapf(ErrMalformedResult, "return code %v is not an integer", f)
	}
	return rcode.FromInt(int(f))
}

func decodePairs(v lua.LValue, list string) (pairs.List, error) {
	if v == lua.LNil {
		return nil, nil
	}
	t, ok := v.(*lua.LTable)
	if !ok {
		return nil, errors.Wrapf(ErrMalformedResult, "%s pairs must be a table, got %s", list, v.Type())
	}
	var out pairs.List
	for i := 1; i <= t.Len(); i++ {
		p, err := decodePair(t.RawGetInt(i))
		if err != nil {
			return nil, errors.Wrapf(err, "%s pair %d", list, i)
		}
		out = append(out, p)
	}
	return out, nil
}

func decodePair(v lua.LValue) (pairs.Pair, error) {
	t, ok := v.(*lua.LTable)
	if !ok {
		return pairs.Pair{}, errors.Wrapf(ErrMalformedResult, "pair must be a table, got %s", v.Type())
	}
	elems := make([]string, 0, 3)
	for i := 1; i <= t.Len(); i++ {
		s, err := scalar(t.RawGetInt(i))
		if err != nil {
			return pairs.Pair{}, err
		}
		elems = append(elems, s)
	}
	switch len(elems) {
	case 2:
		return pairs.New(elems[0], elems[1]), nil
	case 3:
		op, err := pairs.ParseOperator(elems[1])
		if err != nil {
			return pairs.Pair{}, err
		}
		return pairs.NewWithOp(elems[0], op, elems[2]), nil
	}
	return pairs.Pair{}, errors.Wrapf(ErrMalformedResult, "pair must have 2 or 3 elements, got %d", len(elems))
}

func scalar(v lua.LValue) (string, error) {
	switch val := v.(type) {
	case lua.LString:
		return string(val), nil
	case lua.LNumber:
		return strconv.FormatFloat(float64(val), 'f', -1, 64), nil
	}
	return "", errors.Wrapf(ErrMalformedResult, "pair element must be a string or number, got %s", v.Type())
}
