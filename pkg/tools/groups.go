package tools

// CapabilityGroups maps capability names from the agent configuration to
// the tool names they own. Disabling a capability removes its whole group
// from a registry before a run.
var CapabilityGroups = map[string][]string{
	"schedule":   {"schedule_task"},
	"timer":      {"set_timer"},
	"memory":     {"remember", "recall"},
	"message":    {"send_message"},
	"automation": {"ui_action", "ui_snapshot", "finish_task"},
}

// GroupFor returns the capability group owning a tool name, or "" for
// ungrouped tools (MCP tools are ungrouped and never filtered here).
func GroupFor(toolName string) string {
	for group, names := range CapabilityGroups {
		for _, name := range names {
			if name == toolName {
				return group
			}
		}
	}
	return ""
}

// ApplyCapabilityFilter removes every tool belonging to a group that is not
// in enabled. Ungrouped tools are kept.
func ApplyCapabilityFilter(reg *Registry, enabled []string) {
	allowed := make(map[string]bool, len(enabled))
	for _, name := range enabled {
		allowed[name] = true
	}
	for _, toolName := range reg.Names() {
		group := GroupFor(toolName)
		if group != "" && !allowed[group] {
			reg.Remove(toolName)
		}
	}
}
