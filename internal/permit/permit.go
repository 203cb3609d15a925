// Package permit decides whether a resolved user may run a script.
// Evaluation is pure: it never contacts the directory service, that is
// the resolver's job, done once per request by the dispatcher.
package permit

import (
	"strings"

	"github.com/opsmenu/opsmenu/internal/model"
)

// CanRun allows execution when the script declares no restrictions at all,
// when the user is a member of any one required group (OR semantics), when
// the username is on the script's allowlist, or when the user authored the
// script.
func CanRun(user model.UserIdentity, script model.ScriptDescriptor) bool {
	if script.Public() {
		return true
	}
	for _, group := range script.RequiredGroups {
		if user.MemberOf(group) {
			return true
		}
	}
	for _, allowed := range script.AllowedUsers {
		if strings.EqualFold(user.Username, allowed) {
			return true
		}
	}
	if script.Author != "" && strings.EqualFold(user.Username, script.Author) {
		return true
	}
	return false
}
