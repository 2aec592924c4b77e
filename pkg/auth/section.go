package auth

import (
	"github.com/maximthomas/goradius/pkg/modules"
	"github.com/maximthomas/goradius/pkg/rcode"
	"github.com/maximthomas/goradius/pkg/request"
)

// action says what a section does after a module returned a code: stop and
// return it, or continue and remember it with the given priority.
type action struct {
	ret      bool
	priority int
}

var defaultActions = map[rcode.Code]action{
	rcode.Reject:   {ret: true},
	rcode.Fail:     {ret: true},
	rcode.OK:       {priority: 3},
	rcode.Handled:  {ret: true},
	rcode.Invalid:  {ret: true},
	rcode.Userlock: {ret: true},
	rcode.NotFound: {priority: 1},
	rcode.Noop:     {priority: 2},
	rcode.Updated:  {priority: 4},
}

// Section is an ordered list of module instances run for one method.
type Section struct {
	Method    modules.Method
	Instances []*modules.Instance
}

// Run calls the modules in order and returns the section result.
func (s Section) Run(r *request.Request) rcode.Code {
	return runInstances(s.Method, s.Instances, r)
}

func runInstances(method modules.Method, instances []*modules.Instance, r *request.Request) rcode.Code {
	result := rcode.Noop
	priority := 0
	for _, inst := range instances {
		code := inst.Call(method, r)
		act, ok := defaultActions[code]
		if !ok || act.ret {
			r.Logger().Debugf("%s section returned %s from %s", method, code, inst.Name)
			return code
		}
		if act.priority > priority {
			result, priority = code, act.priority
		}
	}
	return result
}

// Find returns the instance called name.
func (s Section) Find(name string) (*modules.Instance, bool) {
	for _, inst := range s.Instances {
		if inst.Name == name {
			return inst, true
		}
	}
	return nil, false
}
