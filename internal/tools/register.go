package tools

import (
	"slices"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// toolNames lists all registered tool names. Single source of truth so the
// conversational engine and the tools stay in sync.
var toolNames = []string{
	"submitAccessRequest",
	"searchIdentitiesOnName",
	"searchAccessObject",
	"checkAccessRequestStatus",
}

// Names returns all registered tool names.
func Names() []string {
	return slices.Clone(toolNames)
}

// Register registers the governance tools with Genkit and returns the tool
// references the conversational engine passes to generation.
func Register(g *genkit.Genkit, ts *Toolset) []ai.Tool {
	return []ai.Tool{
		genkit.DefineTool(g, "submitAccessRequest",
			"Submit an access request granting the requested items to the requested identities",
			ts.submitAccessRequest),
		genkit.DefineTool(g, "searchIdentitiesOnName",
			"Search identities whose name or display name matches a keyword",
			ts.searchIdentitiesOnName),
		genkit.DefineTool(g, "searchAccessObject",
			"Search requestable roles by keyword, optionally scoped to what one identity may request",
			ts.searchAccessObject),
		genkit.DefineTool(g, "checkAccessRequestStatus",
			"List the access requests that are currently executing",
			ts.checkAccessRequestStatus),
	}
}
