package model_test

import (
	"testing"

	"github.com/opsmenu/opsmenu/internal/model"
	"github.com/stretchr/testify/require"
)

func TestScriptDescriptorPublic(t *testing.T) {
	t.Parallel()
	require.True(t, model.ScriptDescriptor{ID: "cleanup"}.Public())
	require.False(t, model.ScriptDescriptor{RequiredGroups: []string{"ops"}}.Public())
	require.False(t, model.ScriptDescriptor{AllowedUsers: []string{"alice"}}.Public())
}

func TestUserIdentityMemberOf(t *testing.T) {
	t.Parallel()
	u := model.UserIdentity{Username: "alice", Groups: []string{"Ops", "dev"}}
	require.True(t, u.MemberOf("ops"))
	require.True(t, u.MemberOf("DEV"))
	require.False(t, u.MemberOf("sales"))
}

func TestNewRunRequest(t *testing.T) {
	t.Parallel()
	user := model.UserIdentity{Username: "alice"}
	script := model.ScriptDescriptor{ID: "cleanup"}

	a := model.NewRunRequest(user, script)
	b := model.NewRunRequest(user, script)
	require.NotEqual(t, a.ID, b.ID)
	require.NotZero(t, a.Requested)
}

func TestRunOutcomeKinds(t *testing.T) {
	t.Parallel()
	cases := []struct {
		kind       model.OutcomeKind
		executed   bool
		notifiable bool
	}{
		{model.OutcomeSuccess, true, false},
		{model.OutcomeFailure, true, true},
		{model.OutcomeTimedOut, true, true},
		{model.OutcomePermissionDenied, false, false},
		{model.OutcomeLaunchError, false, true},
		{model.OutcomeBusy, false, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			o := model.RunOutcome{Kind: tc.kind}
			require.Equal(t, tc.executed, o.Executed())
			require.Equal(t, tc.notifiable, o.Notifiable())
		})
	}
}
