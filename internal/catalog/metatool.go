package catalog

import "github.com/lizzyg/toolrouter/internal/util"

// DiscoverToolsArgs is the argument shape for the discover_tools
// meta-tool the router exposes to the agent executor every turn
// (spec.md §4.6.1). It is reflected into a JSON schema via
// invopop/jsonschema the same way the teacher generated tool parameter
// schemas for provider calls.
type DiscoverToolsArgs struct {
	Queries []string `json:"queries" jsonschema:"required,description=Natural-language descriptions of the capability needed"`
}

// DiscoverToolsSchema returns the JSON schema string for
// DiscoverToolsArgs, used to build the discover_tools ToolDescriptor.
func DiscoverToolsSchema() string {
	return util.GenerateJSONSchema(&DiscoverToolsArgs{})
}
