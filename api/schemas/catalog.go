package schemas

// CapabilityCatalog is the immutable inventory of DSL keywords and MCP
// servers available to a bot. It is constructed once per compile
// request and passed explicitly to the compiler, so plan generation is
// reproducible in tests and never depends on hidden shared state.
type CapabilityCatalog struct {
	Keywords   []string
	MCPServers []string
}

// DefaultKeywords returns the full DSL verb catalog. The list is the
// prompt input for plan generation; the codegen switch recognizes a
// subset and degrades the rest to comments.
func DefaultKeywords() []string {
	return []string{
		"ADD BOT",
		"ADD MEMBER",
		"ADD SUGGESTION",
		"ADD TOOL",
		"AUDIT_LOG",
		"BOOK",
		"CLEAR KB",
		"CLEAR TOOLS",
		"CREATE DRAFT",
		"CREATE SITE",
		"CREATE_TASK",
		"DELETE",
		"DELETE HTTP",
		"DOWNLOAD",
		"FILL",
		"FILTER",
		"FIND",
		"FIRST",
		"GET",
		"GRAPHQL",
		"HEAR",
		"INSERT",
		"JOIN",
		"LAST",
		"LIST",
		"LLM",
		"MAP",
		"MERGE",
		"PATCH",
		"PIVOT",
		"POST",
		"PRINT",
		"PUT",
		"REMEMBER",
		"REQUIRE_APPROVAL",
		"RUN_BASH",
		"RUN_JAVASCRIPT",
		"RUN_PYTHON",
		"SAVE",
		"SEND_MAIL",
		"SEND_TEMPLATE",
		"SET",
		"SET CONTEXT",
		"SET SCHEDULE",
		"SET USER",
		"SIMULATE_IMPACT",
		"SMS",
		"SOAP",
		"TALK",
		"UPDATE",
		"UPLOAD",
		"USE KB",
		"USE MODEL",
		"USE TOOL",
		"USE WEBSITE",
		"USE_MCP",
		"WAIT",
		"WEATHER",
		"WEBHOOK",
	}
}
