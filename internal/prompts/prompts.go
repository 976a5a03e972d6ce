// Package prompts builds the requests sent to the code-synthesis model.
package prompts

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tordrt/revolve/internal/llm"
	"github.com/tordrt/revolve/internal/testrunner"
)

// Classify returns the request that sorts a conversation into an intent category
func Classify(messages []llm.Message) llm.Request {
	system := fmt.Sprintf(`You route requests for a service generator that builds REST resources and tests from a live database schema.

Classify the latest user message into exactly one category:
- %s: the user wants CRUD endpoints generated for one or more database tables
- %s: the user is chatting or asking something you can answer directly; put the answer in "message"
- %s: the user wants something done with the generated project or the database that needs tools (listing or reading files, running tests, querying data)

Reply with JSON: {"category": "...", "message": "..."}`,
		llm.IntentCreateCRUD, llm.IntentRespondBack, llm.IntentOtherTasks)

	return llm.Request{System: system, Messages: messages}
}

// Tools returns the request for one step of the tool sub-loop
func Tools(messages []llm.Message, tools []llm.ToolSpec) llm.Request {
	system := `You help the user work with a generated Python service and its database.
Use the available tools to inspect files, run tests or query data. When you have what you need, answer in plain text without calling further tools.`

	return llm.Request{System: system, Messages: messages, Tools: tools}
}

// SelectTables asks the model which tables the task covers and what to build for each
func SelectTables(task string, schemaText string) llm.Request {
	system := `You plan code generation for a REST service on top of an existing database.
From the schema and the user's request, select the tables that need endpoints.
For each table write an individual_prompt: a precise instruction for the engineer building that table's resource (operations, filters, validation rules).
Only use table names that appear in the schema.

Reply with JSON: {"tables": [{"table_name": "...", "individual_prompt": "..."}]}`

	user := fmt.Sprintf("## Request\n%s\n\n## Schema\n%s", task, schemaText)
	return llm.Request{System: system, Messages: []llm.Message{llm.UserMessage(user)}}
}

// ResourceInput collects what the per-table generation prompt needs
type ResourceInput struct {
	Table            string
	IndividualPrompt string
	Schema           string
	Related          []string
	CodeTemplate     string
	Utils            string
}

// Resource asks for the service module of one table
func Resource(in ResourceInput) llm.Request {
	system := fmt.Sprintf(`You are a senior Python engineer writing Falcon resources backed by PostgreSQL.
Follow the structure of the template exactly and reuse the helpers from the utilities module.
Every resource must honour the X-Test-Request header by passing test_mode to get_db_connection.

## Template
%s

## Utilities (db_utils.py)
%s

Reply with JSON: {"resource_file_name": "<table>.py", "resource_code": "...", "api_route": [{"uri": "/...", "resource_object": "ClassName()"}]}`,
		in.CodeTemplate, in.Utils)

	var b strings.Builder
	fmt.Fprintf(&b, "## Table\n%s\n\n", in.Table)
	fmt.Fprintf(&b, "## Instructions\n%s\n\n", in.IndividualPrompt)
	if len(in.Related) > 0 {
		fmt.Fprintf(&b, "## Related tables\n%s\n\n", strings.Join(in.Related, ", "))
	}
	fmt.Fprintf(&b, "## Schema\n%s\n", in.Schema)

	return llm.Request{System: system, Messages: []llm.Message{llm.UserMessage(b.String())}}
}

// TestInput collects the context for writing or revising a test module
type TestInput struct {
	Table            string
	IndividualPrompt string
	Schema           string
	ResourceFile     string
	ResourceSource   string
	TestSource       string
	TestExample      string
	ResourceExample  string
	APISource        string
	Utils            string
	LastReport       *testrunner.Report
}

// GenerateTest asks for the first version of a resource's test module
func GenerateTest(in TestInput) llm.Request {
	system := fmt.Sprintf(`You write pytest suites for Falcon services using falcon.testing.TestClient.
Every request sent by the tests must carry the header X-Test-Request: true.
Cover create, read, update, delete and the validation errors of the resource. Clean up every row you insert.

## Example test module
%s

## Utilities (db_utils.py)
%s

Reply with JSON: {"full_test_code": "...", "test_case_count": <int>}`,
		in.TestExample, in.Utils)

	user := fmt.Sprintf(`## Table
%s

## Schema
%s

## Resource module (%s)
%s

## API module (api.py)
%s`, in.Table, in.Schema, in.ResourceFile, in.ResourceSource, in.APISource)

	return llm.Request{System: system, Messages: []llm.Message{llm.UserMessage(user)}}
}

// ReviseTest asks for one fix after a failing run. The model picks which of
// the resource, test or api module to replace.
func ReviseTest(in TestInput) llm.Request {
	system := fmt.Sprintf(`You repair a generated Falcon service and its pytest suite.
Read the test report, decide whether the bug is in the resource module, the test module or api.py, and return the full corrected source of exactly that one file.
Set code_type to "resource", "test" or "api" accordingly.

## Reference resource implementation
%s

## Utilities (db_utils.py)
%s

Reply with JSON: {"new_code": "...", "what_was_the_problem": "...", "what_is_fixed": "...", "code_type": "resource|test|api"}`,
		in.ResourceExample, in.Utils)

	user := fmt.Sprintf(`## Original instructions for %s
%s

## Schema
%s

## Resource module (%s)
%s

## Test module (test_%s)
%s

## API module (api.py)
%s

## Test report
%s`, in.Table, in.IndividualPrompt, in.Schema,
		in.ResourceFile, in.ResourceSource,
		in.ResourceFile, in.TestSource,
		in.APISource, reportText(in.LastReport))

	return llm.Request{System: system, Messages: []llm.Message{llm.UserMessage(user)}}
}

// Readme asks for project documentation of the generated service
func Readme(apiSource string, tables []string) llm.Request {
	system := `You write README.md files for generated REST services.
Describe how to install dependencies, configure the .env file, start the server and call every endpoint with curl examples.

Reply with JSON: {"md_content": "..."}`

	user := fmt.Sprintf("## Tables\n%s\n\n## api.py\n%s", strings.Join(tables, ", "), apiSource)
	return llm.Request{System: system, Messages: []llm.Message{llm.UserMessage(user)}}
}

func reportText(r *testrunner.Report) string {
	if r == nil {
		return "(no report)"
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return r.Message
	}
	return string(data)
}
