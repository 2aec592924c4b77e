package auth

import (
	"context"
	"testing"

	"github.com/maximthomas/goradius/pkg/modules"
	"github.com/maximthomas/goradius/pkg/rcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSectionRun(t *testing.T) {
	defs := map[string]modules.Definition{}
	for _, c := range rcode.All() {
		defs[c.String()] = rule(c.String())
	}
	instances, err := modules.LoadInstances(context.Background(), defs)
	require.NoError(t, err)

	section := func(names ...string) Section {
		s := Section{Method: modules.MethodAuthorize}
		for _, n := range names {
			s.Instances = append(s.Instances, instances[n])
		}
		return s
	}

	tests := []struct {
		name    string
		section Section
		result  rcode.Code
	}{
		{"empty", section(), rcode.Noop},
		{"single notfound", section("notfound"), rcode.NotFound},
		{"noop beats notfound", section("notfound", "noop"), rcode.Noop},
		{"ok beats noop", section("noop", "ok", "notfound"), rcode.OK},
		{"updated beats ok", section("ok", "updated", "noop"), rcode.Updated},
		{"reject returns", section("updated", "reject", "ok"), rcode.Reject},
		{"handled returns", section("handled", "reject"), rcode.Handled},
		{"invalid returns", section("ok", "invalid"), rcode.Invalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.result, tt.section.Run(accessRequest("bob", "hello")))
		})
	}

	s := section("ok", "noop")
	inst, ok := s.Find("noop")
	assert.True(t, ok)
	assert.Equal(t, "noop", inst.Name)
	_, ok = s.Find("fail")
	assert.False(t, ok)
}
