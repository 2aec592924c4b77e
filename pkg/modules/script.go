package modules

import (
	"context"
	"sync"
	"time"

	"github.com/maximthomas/goradius/pkg/pairs"
	"github.com/maximthomas/goradius/pkg/rcode"
	"github.com/maximthomas/goradius/pkg/request"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"
)

// Log levels visible to scripts.
const (
	LevelAuth    = 2
	LevelInfo    = 3
	LevelErr     = 4
	LevelWarn    = 5
	LevelProxy   = 6
	LevelAcct    = 7
	LevelDbg     = 16
	LevelDbgWarn = 17
	LevelDbgErr  = 18
)

var scriptLogLevels = map[string]int{
	"L_AUTH":     LevelAuth,
	"L_INFO":     LevelInfo,
	"L_ERR":      LevelErr,
	"L_WARN":     LevelWarn,
	"L_PROXY":    LevelProxy,
	"L_ACCT":     LevelAcct,
	"L_DBG":      LevelDbg,
	"L_DBG_WARN": LevelDbgWarn,
	"L_DBG_ERR":  LevelDbgErr,
}

const (
	callbackInstantiate = "instantiate"
	callbackDetach      = "detach"
	callbackCheckSimul  = "checksimul"
)

// Scripts report the session count for Simultaneous-Use through this control pair.
const attrSimultaneousCount = "Simultaneous-Count"

// scriptDetachTimeout bounds how long Detach waits for busy interpreters.
var scriptDetachTimeout = 10 * time.Second

var (
	errScriptNotInstantiated = errors.New("script module is not instantiated")
	errScriptDetached        = errors.New("script module is detached")
)

// Script hands requests to Lua callbacks named after the module methods.
type Script struct {
	BaseModule
	Filename  string
	Module    string
	PoolSize  int
	Functions map[string]string

	mu      sync.Mutex
	closed  bool
	done    chan struct{}
	interps []*interp
	pool    chan *interp
}

// interp is a Lua state plus the logger of the request it currently serves.
type interp struct {
	L      *lua.LState
	logger logrus.FieldLogger
}

func init() {
	RegisterModule("script", newScript)
}

func newScript(base BaseModule) (Module, error) {
	s := &Script{}
	if err := base.decode(s); err != nil {
		return nil, err
	}
	s.BaseModule = base
	if s.Filename == "" {
		return nil, errors.Errorf("module %s: filename is required", base.Name)
	}
	if s.Module == "" {
		s.Module = "radiusd"
	}
	if s.PoolSize < 1 {
		s.PoolSize = 1
	}
	return s, nil
}

func (s *Script) Instantiate(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pool = make(chan *interp, s.PoolSize)
	s.done = make(chan struct{})
	s.closed = false
	for i := 0; i < s.PoolSize; i++ {
		in, err := s.newInterp()
		if err != nil {
			s.closeAll()
			return err
		}
		s.interps = append(s.interps, in)
		s.pool <- in
	}
	s.logger().Infof("loaded %s into %d interpreter(s)", s.Filename, s.PoolSize)
	return nil
}

func (s *Script) newInterp() (*interp, error) {
	in := &interp{L: lua.NewState(), logger: s.logger()}
	in.L.SetGlobal(s.Module, s.hostAPI(in))
	if err := in.L.DoFile(s.Filename); err != nil {
		in.L.Close()
		return nil, errors.Wrapf(err, "error loading script %s", s.Filename)
	}
	fn, ok := s.function(in.L, callbackInstantiate)
	if !ok {
		return in, nil
	}
	res, err := s.invoke(in.L, fn)
	if err != nil {
		in.L.Close()
		return nil, errors.Wrap(err, "instantiate failed")
	}
	switch res.Code {
	case rcode.OK, rcode.Noop, rcode.Updated:
		return in, nil
	}
	in.L.Close()
	return nil, errors.Errorf("instantiate returned %s", res.Code)
}

func (s *Script) hostAPI(in *interp) *lua.LTable {
	api := in.L.NewTable()
	api.RawSetString("radlog", in.L.NewFunction(func(L *lua.LState) int {
		level := L.CheckInt(1)
		msg := L.CheckString(2)
		radlog(in.logger, level, msg)
		return 0
	}))
	for name, level := range scriptLogLevels {
		api.RawSetString(name, lua.LNumber(level))
	}
	for _, c := range rcode.All() {
		api.RawSetString(c.ConstName(), lua.LNumber(c))
	}
	return api
}

func radlog(l logrus.FieldLogger, level int, msg string) {
	switch level {
	case LevelErr:
		l.Error(msg)
	case LevelWarn:
		l.Warn(msg)
	case LevelDbg, LevelDbgWarn, LevelDbgErr:
		l.Debug(msg)
	default:
		l.Info(msg)
	}
}

func (s *Script) function(L *lua.LState, callback string) (*lua.LFunction, bool) {
	name := callback
	if override, ok := s.Functions[callback]; ok && override != "" {
		name = override
	}
	fn, ok := L.GetGlobal(name).(*lua.LFunction)
	return fn, ok
}

func (s *Script) invoke(L *lua.LState, fn *lua.LFunction, args ...lua.LValue) (scriptResult, error) {
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, args...); err != nil {
		return scriptResult{Code: rcode.Fail}, err
	}
	ret := L.Get(-1)
	L.Pop(1)
	return decodeResult(ret)
}

func (s *Script) acquire(ctx context.Context) (*interp, error) {
	s.mu.Lock()
	pool, done, closed := s.pool, s.done, s.closed
	s.mu.Unlock()
	if pool == nil {
		return nil, errScriptNotInstantiated
	}
	if closed {
		return nil, errScriptDetached
	}
	select {
	case in := <-pool:
		s.mu.Lock()
		closed = s.closed
		s.mu.Unlock()
		if closed {
			pool <- in
			return nil, errScriptDetached
		}
		return in, nil
	case <-done:
		return nil, errScriptDetached
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// call runs the first of callbacks the script defines.
func (s *Script) call(r *request.Request, callbacks ...string) (rcode.Code, error) {
	ctx := r.Context()
	in, err := s.acquire(ctx)
	if err != nil {
		return rcode.Fail, err
	}
	defer s.release(in)

	var (
		fn       *lua.LFunction
		callback string
		ok       bool
	)
	for _, callback = range callbacks {
		if fn, ok = s.function(in.L, callback); ok {
			break
		}
	}
	if !ok {
		return rcode.Noop, nil
	}
	in.logger = r.Logger().WithField("module", s.Name)
	in.L.SetContext(ctx)
	defer in.L.RemoveContext()

	res, err := s.invoke(in.L, fn, requestTable(in.L, r))
	if err != nil {
		return rcode.Fail, errors.Wrapf(err, "%s callback", callback)
	}
	r.Reply.Move(res.Reply)
	r.Control.Move(res.Control)
	return res.Code, nil
}

func (s *Script) release(in *interp) {
	in.logger = s.logger()
	s.pool <- in
}

func requestTable(L *lua.LState, r *request.Request) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("id", lua.LString(r.ID))
	t.RawSetString("request", pairsTable(L, r.Packet))
	t.RawSetString("reply", pairsTable(L, r.Reply))
	t.RawSetString("control", pairsTable(L, r.Control))
	t.RawSetString("state", pairsTable(L, r.State))
	return t
}

func pairsTable(L *lua.LState, l pairs.List) *lua.LTable {
	t := L.CreateTable(len(l), 0)
	for _, p := range l {
		pt := L.CreateTable(2, 0)
		pt.Append(lua.LString(p.Name))
		pt.Append(lua.LString(p.Value))
		t.Append(pt)
	}
	return t
}

func (s *Script) Authorize(r *request.Request) (rcode.Code, error) {
	return s.call(r, string(MethodAuthorize))
}

func (s *Script) Authenticate(r *request.Request) (rcode.Code, error) {
	return s.call(r, string(MethodAuthenticate))
}

func (s *Script) PreAcct(r *request.Request) (rcode.Code, error) {
	return s.call(r, string(MethodPreAcct))
}

func (s *Script) Accounting(r *request.Request) (rcode.Code, error) {
	return s.call(r, string(MethodAccounting))
}

func (s *Script) PostAuth(r *request.Request) (rcode.Code, error) {
	return s.call(r, string(MethodPostAuth))
}

// CheckSimul runs the session callback, or checksimul when only that is defined.
// A Simultaneous-Count control pair in the result sets r.SimulCount.
func (s *Script) CheckSimul(r *request.Request) (rcode.Code, error) {
	code, err := s.call(r, string(MethodSession), callbackCheckSimul)
	if err != nil {
		return code, err
	}
	if p, ok := r.Control.Find(attrSimultaneousCount); ok {
		r.Control.Delete(attrSimultaneousCount)
		n, err := pairs.Uint32(p.Value)
		if err != nil {
			return rcode.Fail, errors.Wrap(err, attrSimultaneousCount)
		}
		r.SimulCount = int(n)
	}
	return code, nil
}

// Detach stops new calls, waits for running ones to hand their interpreter
// back and then runs the detach callback in each interpreter before closing it.
// Interpreters still busy after scriptDetachTimeout are left open.
func (s *Script) Detach() error {
	s.mu.Lock()
	if s.closed || s.pool == nil {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	total := len(s.interps)
	s.interps = nil
	s.mu.Unlock()

	timer := time.NewTimer(scriptDetachTimeout)
	defer timer.Stop()
	idle := make([]*interp, 0, total)
wait:
	for len(idle) < total {
		select {
		case in := <-s.pool:
			idle = append(idle, in)
		case <-timer.C:
			s.logger().Warnf("%d interpreter(s) still busy after %s, not closing them", total-len(idle), scriptDetachTimeout)
			break wait
		}
	}

	var firstErr error
	for _, in := range idle {
		if fn, ok := s.function(in.L, callbackDetach); ok {
			if _, err := s.invoke(in.L, fn); err != nil && firstErr == nil {
				firstErr = errors.Wrap(err, "detach failed")
			}
		}
		in.L.Close()
	}
	return firstErr
}

// closeAll drops the interpreters of a failed Instantiate.
func (s *Script) closeAll() {
	for _, in := range s.interps {
		in.L.Close()
	}
	s.interps = nil
	s.pool = nil
}
