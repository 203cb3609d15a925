package permit_test

import (
	"testing"

	"github.com/opsmenu/opsmenu/internal/model"
	"github.com/opsmenu/opsmenu/internal/permit"
	"github.com/stretchr/testify/require"
)

func TestCanRun(t *testing.T) {
	t.Parallel()

	alice := model.UserIdentity{Username: "alice", Groups: []string{"ops"}}
	bob := model.UserIdentity{Username: "bob", Groups: []string{"sales"}}

	var testCases = []struct {
		scenario string
		user     model.UserIdentity
		script   model.ScriptDescriptor
		want     bool
	}{
		{
			"member of required group",
			alice,
			model.ScriptDescriptor{ID: "cleanup", RequiredGroups: []string{"ops"}},
			true,
		},
		{
			"not a member",
			bob,
			model.ScriptDescriptor{ID: "cleanup", RequiredGroups: []string{"ops"}},
			false,
		},
		{
			"any one group suffices",
			bob,
			model.ScriptDescriptor{ID: "cleanup", RequiredGroups: []string{"ops", "sales"}},
			true,
		},
		{
			"public script",
			bob,
			model.ScriptDescriptor{ID: "hello"},
			true,
		},
		{
			"group compare is case-insensitive",
			alice,
			model.ScriptDescriptor{ID: "cleanup", RequiredGroups: []string{"OPS"}},
			true,
		},
		{
			"allowlisted user without groups",
			bob,
			model.ScriptDescriptor{ID: "report", RequiredGroups: []string{"ops"}, AllowedUsers: []string{"bob"}},
			true,
		},
		{
			"author may always run own script",
			bob,
			model.ScriptDescriptor{ID: "report", RequiredGroups: []string{"ops"}, Author: "Bob"},
			true,
		},
		{
			"allowlist without match",
			bob,
			model.ScriptDescriptor{ID: "report", AllowedUsers: []string{"carol"}},
			false,
		},
		{
			"no groups resolved",
			model.UserIdentity{Username: "ghost"},
			model.ScriptDescriptor{ID: "cleanup", RequiredGroups: []string{"ops"}},
			false,
		},
	}

	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, permit.CanRun(tt.user, tt.script))
		})
	}
}
