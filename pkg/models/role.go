package models

import "slices"

// Role is the closed set of agent roles.
type Role string

const (
	// RolePlanner breaks requests into tasks.
	RolePlanner Role = "planner"
	// RoleArchitect designs app structure and data flow.
	RoleArchitect Role = "architect"
	// RoleDeveloper writes application code.
	RoleDeveloper Role = "developer"
	// RoleDesigner produces screens and styling.
	RoleDesigner Role = "designer"
	// RoleTester writes and runs tests.
	RoleTester Role = "tester"
	// RoleReviewer critiques finished work.
	RoleReviewer Role = "reviewer"
)

// Valid returns true if the role is a known value.
func (r Role) Valid() bool {
	_, ok := capabilities[r]
	return ok
}

// Capability lists what an agent of a given role may use.
type Capability struct {
	// Tools are the tool names the role may invoke.
	Tools []string
	// Models are the models the role may run on.
	Models []string
	// DefaultModel is used when the agent config does not pick one.
	DefaultModel string
}

// Allows reports whether tool is permitted.
func (c Capability) Allows(tool string) bool {
	return slices.Contains(c.Tools, tool)
}

// AllowsModel reports whether model is permitted.
func (c Capability) AllowsModel(model string) bool {
	return slices.Contains(c.Models, model)
}

const (
	modelOpus   = "claude-opus-4-1-20250805"
	modelSonnet = "claude-sonnet-4-20250514"
	modelHaiku  = "claude-3-5-haiku-20241022"
)

var capabilities = map[Role]Capability{
	RolePlanner: {
		Tools:        []string{"read_file", "list_files", "search"},
		Models:       []string{modelOpus, modelSonnet},
		DefaultModel: modelOpus,
	},
	RoleArchitect: {
		Tools:        []string{"read_file", "list_files", "search", "write_file"},
		Models:       []string{modelOpus, modelSonnet},
		DefaultModel: modelOpus,
	},
	RoleDeveloper: {
		Tools:        []string{"read_file", "list_files", "search", "write_file", "edit_file", "run_command"},
		Models:       []string{modelSonnet, modelOpus, modelHaiku},
		DefaultModel: modelSonnet,
	},
	RoleDesigner: {
		Tools:        []string{"read_file", "list_files", "write_file", "edit_file"},
		Models:       []string{modelSonnet, modelHaiku},
		DefaultModel: modelSonnet,
	},
	RoleTester: {
		Tools:        []string{"read_file", "list_files", "search", "write_file", "run_command"},
		Models:       []string{modelSonnet, modelHaiku},
		DefaultModel: modelHaiku,
	},
	RoleReviewer: {
		Tools:        []string{"read_file", "list_files", "search"},
		Models:       []string{modelOpus, modelSonnet, modelHaiku},
		DefaultModel: modelSonnet,
	},
}

// AllRoles lists every role in declaration order.
var AllRoles = []Role{RolePlanner, RoleArchitect, RoleDeveloper, RoleDesigner, RoleTester, RoleReviewer}

// CapabilityFor returns the capability table entry for role.
func CapabilityFor(role Role) (Capability, bool) {
	c, ok := capabilities[role]
	return c, ok
}
