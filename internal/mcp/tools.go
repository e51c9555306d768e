package mcp

import "github.com/mark3labs/mcp-go/mcp"

var searchTemplatesTool = mcp.NewTool("search_templates",
	mcp.WithDescription("Find letter templates relevant to a description of the letter the user needs."),
	mcp.WithString("query",
		mcp.Required(),
		mcp.Description("What the letter is for, in natural language"),
	),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of templates to return (default 3)"),
	),
)

var fillTemplateTool = mcp.NewTool("fill_template",
	mcp.WithDescription("Fill a named letter template with field values. Unknown placeholders are left as-is."),
	mcp.WithString("template_name",
		mcp.Required(),
		mcp.Description("Template name as returned by search_templates"),
	),
	mcp.WithObject("data",
		mcp.Description("Placeholder name to value"),
	),
)

var searchLawsTool = mcp.NewTool("search_laws",
	mcp.WithDescription("Retrieve the law passages most relevant to a question, with source file and section."),
	mcp.WithString("query",
		mcp.Required(),
		mcp.Description("Legal question or topic"),
	),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of passages to return (default 5)"),
	),
)

var explainLawTool = mcp.NewTool("explain_law",
	mcp.WithDescription("Explain a legal question in plain language, grounded in retrieved law passages."),
	mcp.WithString("query",
		mcp.Required(),
		mcp.Description("Legal question"),
	),
	mcp.WithNumber("k",
		mcp.Description("Number of passages to ground the answer in"),
	),
)
