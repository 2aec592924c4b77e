package modules

import (
	"context"
	"sort"

	"github.com/maximthomas/goradius/pkg/log"
	"github.com/pkg/errors"
)

// Definition is a module instance as it appears in configuration.
type Definition struct {
	Type       string                 `mapstructure:"type"`
	Properties map[string]interface{} `mapstructure:"properties,omitempty"`
}

// Instances holds instantiated modules by name.
type Instances map[string]*Instance

// LoadInstances builds and instantiates every definition in name order. On
// error the already instantiated modules are detached.
func LoadInstances(ctx context.Context, defs map[string]Definition) (Instances, error) {
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)

	instances := make(Instances, len(defs))
	for _, name := range names {
		def := defs[name]
		if def.Type == "" {
			def.Type = name
		}
		inst, err := NewInstance(name, def.Type, def.Properties)
		if err != nil {
			instances.Detach()
			return nil, err
		}
		if err := inst.Module.Instantiate(ctx); err != nil {
			instances.Detach()
			return nil, errors.Wrapf(err, "error instantiating module %s", name)
		}
		log.WithField("module", name).Debugf("instantiated %s module with methods %v", inst.Type, inst.Methods())
		instances[name] = inst
	}
	return instances, nil
}

// Detach detaches every instance and returns the first error.
func (is Instances) Detach() error {
	var first error
	for name, inst := range is {
		if err := inst.Module.Detach(); err != nil {
			if first == nil {
				first = errors.Wrapf(err, "error detaching module %s", name)
			}
		}
	}
	return first
}

// FirstOfType returns the alphabetically first instance of type mt.
func (is Instances) FirstOfType(mt string) (*Instance, bool) {
	names := make([]string, 0, len(is))
	for name, inst := range is {
		if inst.Type == mt {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil, false
	}
	sort.Strings(names)
	return is[names[0]], true
}
