package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tordrt/revolve/internal/llm"
	"github.com/tordrt/revolve/internal/testrunner"
)

func TestReviseTestCarriesContext(t *testing.T) {
	report := testrunner.Report{
		Outcome: testrunner.OutcomeFailed,
		Summary: testrunner.Summary{Failed: 2, FailedTests: []string{"test_users.py::test_create"}},
	}

	req := ReviseTest(TestInput{
		Table:            "users",
		IndividualPrompt: "expose CRUD on users",
		Schema:           "TABLE users",
		ResourceFile:     "users.py",
		ResourceSource:   "class UsersResource: pass",
		TestSource:       "def test_create(): assert False",
		APISource:        "app = falcon.App()",
		LastReport:       &report,
	})

	require.Len(t, req.Messages, 1)
	msg := req.Messages[0].Text
	for _, want := range []string{"expose CRUD on users", "class UsersResource", "def test_create", "app = falcon.App()", "test_users.py::test_create"} {
		assert.Contains(t, msg, want)
	}
	assert.Equal(t, llm.RoleUser, req.Messages[0].Role)
}

func TestReportTextWithoutReport(t *testing.T) {
	assert.Equal(t, "(no report)", reportText(nil))
}

func TestToolsKeepsConversation(t *testing.T) {
	messages := []llm.Message{llm.UserMessage("list the files"), {Role: llm.RoleModel, Text: "ok"}}
	specs := []llm.ToolSpec{{Name: "list_files"}}

	req := Tools(messages, specs)
	assert.Equal(t, messages, req.Messages)
	assert.Equal(t, specs, req.Tools)
}
