package model

import "fmt"

const (
	ActionReloadEnv = "reload_env"
	ActionUpdateEnv = "update_env"
)

// CommandDenied is returned by AuthorizeCommand when a role may not issue an action.
type CommandDenied struct {
	Role     Role
	Action   string
	Required Role
	Message  string
}

func (e *CommandDenied) Error() string {
	return fmt.Sprintf("command %q denied for role %s (requires %s): %s", e.Action, e.Role, e.Required, e.Message)
}

// RequiredRole returns the minimum role allowed to issue action.
func RequiredRole(action string) Role {
	switch action {
	case ActionUpdateEnv:
		return RoleOwner
	case ActionReloadEnv:
		return RoleContentManager
	default:
		return RoleModerator
	}
}

// AuthorizeCommand checks whether role may send action to an instance.
// The generic command gate is evaluated before the per-action gates, so a
// viewer always receives the generic message.
func AuthorizeCommand(role Role, action string) error {
	if !role.AtLeast(RoleModerator) {
		return &CommandDenied{Role: role, Action: action, Required: RoleModerator, Message: "Insufficient permissions"}
	}
	required := RequiredRole(action)
	if role.AtLeast(required) {
		return nil
	}
	denied := &CommandDenied{Role: role, Action: action, Required: required}
	switch action {
	case ActionUpdateEnv:
		denied.Message = "Only the team owner can edit environment variables"
	default:
		denied.Message = "Insufficient permissions for " + action
	}
	return denied
}
