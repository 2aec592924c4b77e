package modules

import (
	"context"
	"fmt"
	"net"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/maximthomas/goradius/pkg/pairs"
	"github.com/maximthomas/goradius/pkg/rcode"
	"github.com/maximthomas/goradius/pkg/request"
	"github.com/pkg/errors"
)

// PolicyRule fires when Condition evaluates to true. Reply, Control and State
// hold "Name op Value" pairs that are moved into the request lists.
type PolicyRule struct {
	Name      string
	Condition string
	Rcode     string
	Reply     []string
	Control   []string
	State     []string
}

type compiledRule struct {
	name    string
	program cel.Program
	code    rcode.Code
	reply   pairs.List
	control pairs.List
	state   pairs.List
}

// Policy evaluates CEL rules against the request. The first matching rule wins.
type Policy struct {
	BaseModule
	Rules []PolicyRule

	rules []compiledRule
}

func init() {
	RegisterModule("policy", newPolicy)
}

func newPolicy(base BaseModule) (Module, error) {
	p := &Policy{}
	if err := base.decode(p); err != nil {
		return nil, err
	}
	p.BaseModule = base
	return p, nil
}

func newPolicyEnv() (*cel.Env, error) {
	strMap := cel.MapType(cel.StringType, cel.StringType)
	return cel.NewEnv(
		cel.Variable("request", strMap),
		cel.Variable("reply", strMap),
		cel.Variable("control", strMap),
		cel.Variable("state", strMap),
		cel.Variable("code", cel.StringType),
		cel.Variable("client", cel.StringType),
		cel.Variable("method", cel.StringType),
		cel.Function("ip_in_range",
			cel.Overload("ip_in_range_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(ipInRange),
			),
		),
	)
}

func ipInRange(ip, cidr ref.Val) ref.Val {
	ipStr, ok := ip.Value().(string)
	if !ok {
		return types.False
	}
	cidrStr, ok := cidr.Value().(string)
	if !ok {
		return types.False
	}
	parsedIP := net.ParseIP(ipStr)
	if parsedIP == nil {
		return types.False
	}
	_, network, err := net.ParseCIDR(cidrStr)
	if err != nil {
		return types.False
	}
	return types.Bool(network.Contains(parsedIP))
}

func parsePairs(items []string) (pairs.List, error) {
	list := make(pairs.List, 0, len(items))
	for _, item := range items {
		p, err := pairs.Parse(item)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, nil
}

func (p *Policy) Instantiate(_ context.Context) error {
	env, err := newPolicyEnv()
	if err != nil {
		return errors.Wrap(err, "failed to create CEL environment")
	}
	rules := make([]compiledRule, 0, len(p.Rules))
	for i, rule := range p.Rules {
		name := rule.Name
		if name == "" {
			name = fmt.Sprintf("rule-%d", i+1)
		}
		ast, issues := env.Compile(rule.Condition)
		if issues != nil && issues.Err() != nil {
			return errors.Wrapf(issues.Err(), "module %s: rule %s: failed to compile condition", p.Name, name)
		}
		program, err := env.Program(ast)
		if err != nil {
			return errors.Wrapf(err, "module %s: rule %s: failed to create program", p.Name, name)
		}
		cr := compiledRule{name: name, program: program, code: rcode.OK}
		if rule.Rcode != "" {
			if cr.code, err = rcode.Parse(rule.Rcode); err != nil {
				return errors.Wrapf(err, "module %s: rule %s", p.Name, name)
			}
		}
		if cr.reply, err = parsePairs(rule.Reply); err != nil {
			return errors.Wrapf(err, "module %s: rule %s: reply", p.Name, name)
		}
		if cr.control, err = parsePairs(rule.Control); err != nil {
			return errors.Wrapf(err, "module %s: rule %s: control", p.Name, name)
		}
		if cr.state, err = parsePairs(rule.State); err != nil {
			return errors.Wrapf(err, "module %s: rule %s: state", p.Name, name)
		}
		rules = append(rules, cr)
	}
	p.rules = rules
	return nil
}

func (p *Policy) evaluate(method Method, r *request.Request) (rcode.Code, error) {
	client := ""
	if r.Client != nil {
		client = r.Client.String()
	}
	activation := map[string]interface{}{
		"request": r.Packet.Map(),
		"reply":   r.Reply.Map(),
		"control": r.Control.Map(),
		"state":   r.State.Map(),
		"code":    r.Code.String(),
		"client":  client,
		"method":  string(method),
	}
	logger := r.Logger().WithField("module", p.Name)
	for _, rule := range p.rules {
		result, _, err := rule.program.Eval(activation)
		if err != nil {
			logger.Warnf("rule %s evaluation error: %v", rule.name, err)
			continue
		}
		if matched, ok := result.Value().(bool); !ok || !matched {
			continue
		}
		logger.Debugf("rule %s matched", rule.name)
		r.Reply.Move(rule.reply.Copy())
		r.Control.Move(rule.control.Copy())
		r.State.Move(rule.state.Copy())
		return rule.code, nil
	}
	return rcode.Noop, nil
}

func (p *Policy) Authorize(r *request.Request) (rcode.Code, error) {
	return p.evaluate(MethodAuthorize, r)
}

func (p *Policy) Authenticate(r *request.Request) (rcode.Code, error) {
	return p.evaluate(MethodAuthenticate, r)
}

func (p *Policy) PreAcct(r *request.Request) (rcode.Code, error) {
	return p.evaluate(MethodPreAcct, r)
}

func (p *Policy) Accounting(r *request.Request) (rcode.Code, error) {
	return p.evaluate(MethodAccounting, r)
}

func (p *Policy) PostAuth(r *request.Request) (rcode.Code, error) {
	return p.evaluate(MethodPostAuth, r)
}

func (p *Policy) CheckSimul(r *request.Request) (rcode.Code, error) {
	return p.evaluate(MethodSession, r)
}
