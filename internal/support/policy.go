package support

import "github.com/boostgram/backend/internal/models"

// Role-dependent behavior is resolved from this table instead of ad hoc
// conditionals scattered through send/edit/delete, so the policy can be
// audited and tested in isolation.

type action string

const (
	actEditMessage        action = "edit_message"
	actHardDeleteMessage  action = "hard_delete_message"
	actSoftDeleteMessage  action = "soft_delete_message"
	actManageConversation action = "manage_conversation"
	actCloseTicket        action = "close_ticket"
	actAdminNote          action = "admin_note"
)

type rule func(actor models.Actor, ownerID string) bool

func anyTarget(models.Actor, string) bool { return true }

func ownTarget(a models.Actor, ownerID string) bool { return a.ID == ownerID }

var capabilities = map[action]map[models.Role]rule{
	actEditMessage: {
		models.RoleAdmin: anyTarget,
		models.RoleUser:  ownTarget,
	},
	actHardDeleteMessage: {
		models.RoleAdmin: anyTarget,
	},
	actSoftDeleteMessage: {
		models.RoleUser: ownTarget,
	},
	actManageConversation: {
		models.RoleAdmin: anyTarget,
	},
	actCloseTicket: {
		models.RoleAdmin: anyTarget,
	},
	actAdminNote: {
		models.RoleAdmin: anyTarget,
	},
}

func allowed(act action, actor models.Actor, ownerID string) bool {
	r, ok := capabilities[act][actor.Role]
	return ok && r(actor, ownerID)
}
