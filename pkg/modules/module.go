package modules

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/maximthomas/goradius/pkg/log"
	"github.com/maximthomas/goradius/pkg/metrics"
	"github.com/maximthomas/goradius/pkg/rcode"
	"github.com/maximthomas/goradius/pkg/request"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Module is a configured module instance. Instantiate is called once before
// the first request, Detach once on shutdown.
type Module interface {
	Instantiate(ctx context.Context) error
	Detach() error
}

type Authorizer interface {
	Authorize(r *request.Request) (rcode.Code, error)
}

type Authenticator interface {
	Authenticate(r *request.Request) (rcode.Code, error)
}

type PreAccounter interface {
	PreAcct(r *request.Request) (rcode.Code, error)
}

type Accounter interface {
	Accounting(r *request.Request) (rcode.Code, error)
}

type PostAuther interface {
	PostAuth(r *request.Request) (rcode.Code, error)
}

// SessionChecker counts the user's active sessions into r.SimulCount.
type SessionChecker interface {
	CheckSimul(r *request.Request) (rcode.Code, error)
}

// ThreadUnsafe modules get their callbacks serialized by the Instance.
type ThreadUnsafe interface {
	ThreadUnsafe() bool
}

type Method string

const (
	MethodAuthorize    Method = "authorize"
	MethodAuthenticate Method = "authenticate"
	MethodPreAcct      Method = "preacct"
	MethodAccounting   Method = "accounting"
	MethodPostAuth     Method = "post_auth"
	MethodSession      Method = "session"
)

// Methods lists every method in processing order.
var Methods = []Method{MethodAuthorize, MethodAuthenticate, MethodPreAcct, MethodAccounting, MethodPostAuth, MethodSession}

var ErrModuleNotFound = errors.New("module type is not registered")

type moduleConstructor = func(base BaseModule) (Module, error)

var modulesRegistry = &sync.Map{}

func RegisterModule(mt string, constructor moduleConstructor) {
	log.WithField("module", "registry").Debugf("registered %v module", mt)
	modulesRegistry.Store(mt, constructor)
}

// RegisteredTypes returns the registered module types in name order.
func RegisteredTypes() []string {
	var types []string
	modulesRegistry.Range(func(k, _ interface{}) bool {
		types = append(types, k.(string))
		return true
	})
	sort.Strings(types)
	return types
}

// BaseModule carries what every module shares: its instance name, type and raw properties.
type BaseModule struct {
	Name       string
	Type       string
	Properties map[string]interface{}
	l          logrus.FieldLogger
}

func NewBaseModule(name, mt string, props map[string]interface{}) BaseModule {
	if props == nil {
		props = make(map[string]interface{})
	}
	return BaseModule{
		Name:       name,
		Type:       mt,
		Properties: props,
		l:          log.WithFields(logrus.Fields{"module": name, "type": mt}),
	}
}

func (b BaseModule) Instantiate(_ context.Context) error {
	return nil
}

func (b BaseModule) Detach() error {
	return nil
}

func (b BaseModule) logger() logrus.FieldLogger {
	if b.l == nil {
		return log.WithField("module", b.Name)
	}
	return b.l
}

// decode fills target from the instance properties.
func (b BaseModule) decode(target interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	return errors.Wrapf(dec.Decode(b.Properties), "module %s: bad properties", b.Name)
}

// Instance is a named module ready to be called from a section.
type Instance struct {
	Name   string
	Type   string
	Module Module
	mu     *sync.Mutex
}

// NewInstance builds a module of type mt. It does not instantiate it.
func NewInstance(name, mt string, props map[string]interface{}) (*Instance, error) {
	constructor, ok := modulesRegistry.Load(mt)
	if !ok {
		return nil, errors.Wrapf(ErrModuleNotFound, "%s (instance %s), known types: %s", mt, name, strings.Join(RegisteredTypes(), ", "))
	}
	c, ok := constructor.(moduleConstructor)
	if !ok {
		return nil, fmt.Errorf("error converting %v to module constructor", constructor)
	}
	m, err := c(NewBaseModule(name, mt, props))
	if err != nil {
		return nil, errors.Wrapf(err, "error creating module %s", name)
	}
	inst := &Instance{Name: name, Type: mt, Module: m}
	if tu, ok := m.(ThreadUnsafe); ok && tu.ThreadUnsafe() {
		inst.mu = &sync.Mutex{}
	}
	return inst, nil
}

// Methods returns the methods the module has callbacks for.
func (i *Instance) Methods() []Method {
	var methods []Method
	for _, m := range Methods {
		if i.Implements(m) {
			methods = append(methods, m)
		}
	}
	return methods
}

// Implements reports whether the module has a callback for method.
func (i *Instance) Implements(method Method) bool {
	switch method {
	case MethodAuthorize:
		_, ok := i.Module.(Authorizer)
		return ok
	case MethodAuthenticate:
		_, ok := i.Module.(Authenticator)
		return ok
	case MethodPreAcct:
		_, ok := i.Module.(PreAccounter)
		return ok
	case MethodAccounting:
		_, ok := i.Module.(Accounter)
		return ok
	case MethodPostAuth:
		_, ok := i.Module.(PostAuther)
		return ok
	case MethodSession:
		_, ok := i.Module.(SessionChecker)
		return ok
	}
	return false
}

// Call runs the method callback. Modules without the callback return noop,
// callback errors are logged and turned into fail.
func (i *Instance) Call(method Method, r *request.Request) rcode.Code {
	if i.mu != nil {
		i.mu.Lock()
		defer i.mu.Unlock()
	}
	start := time.Now()
	code, err := i.dispatch(method, r)
	if err != nil {
		r.Logger().WithFields(logrus.Fields{"module": i.Name, "method": method}).Errorf("module call failed: %v", err)
		code = rcode.Fail
	}
	if !code.Valid() {
		r.Logger().WithField("module", i.Name).Errorf("module returned invalid code %d", int(code))
		code = rcode.Fail
	}
	metrics.Get().ModuleCall(i.Name, string(method), code.String(), time.Since(start))
	r.Logger().WithField("module", i.Name).Debugf("%s returned %s", method, code)
	return code
}

func (i *Instance) dispatch(method Method, r *request.Request) (rcode.Code, error) {
	switch method {
	case MethodAuthorize:
		if m, ok := i.Module.(Authorizer); ok {
			return m.Authorize(r)
		}
	case MethodAuthenticate:
		if m, ok := i.Module.(Authenticator); ok {
			return m.Authenticate(r)
		}
	case MethodPreAcct:
		if m, ok := i.Module.(PreAccounter); ok {
			return m.PreAcct(r)
		}
	case MethodAccounting:
		if m, ok := i.Module.(Accounter); ok {
			return m.Accounting(r)
		}
	case MethodPostAuth:
		if m, ok := i.Module.(PostAuther); ok {
			return m.PostAuth(r)
		}
	case MethodSession:
		if m, ok := i.Module.(SessionChecker); ok {
			return m.CheckSimul(r)
		}
	default:
		return rcode.Fail, errors.Errorf("unknown method %s", method)
	}
	return rcode.Noop, nil
}
