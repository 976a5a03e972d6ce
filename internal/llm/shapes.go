package llm

import (
	"errors"
	"fmt"
	"strings"
)

// Intent categories returned by classification
const (
	IntentCreateCRUD  = "create_crud_task"
	IntentRespondBack = "respond_back"
	IntentOtherTasks  = "other_tasks"
)

// Classification decides what kind of request the user made
type Classification struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

func (c *Classification) Validate() error {
	switch c.Category {
	case IntentCreateCRUD, IntentRespondBack, IntentOtherTasks:
		return nil
	default:
		return fmt.Errorf("unknown category %q", c.Category)
	}
}

// SelectedTable is one table the model chose to generate code for
type SelectedTable struct {
	TableName        string `json:"table_name"`
	IndividualPrompt string `json:"individual_prompt"`
}

// SchemaSelection lists the tables a request covers
type SchemaSelection struct {
	Tables []SelectedTable `json:"tables"`
}

func (s *SchemaSelection) Validate() error {
	if len(s.Tables) == 0 {
		return errors.New("no tables selected")
	}
	seen := make(map[string]bool, len(s.Tables))
	for i, t := range s.Tables {
		if strings.TrimSpace(t.TableName) == "" {
			return fmt.Errorf("table %d has no name", i)
		}
		if seen[t.TableName] {
			return fmt.Errorf("table %s selected twice", t.TableName)
		}
		seen[t.TableName] = true
	}
	return nil
}

// RouteSpec binds a URI to a resource object in the generated module
type RouteSpec struct {
	URI            string `json:"uri"`
	ResourceObject string `json:"resource_object"`
}

// Resource is the generated service module for one table
type Resource struct {
	ResourceFileName string      `json:"resource_file_name"`
	ResourceCode     string      `json:"resource_code"`
	APIRoutes        []RouteSpec `json:"api_route"`
}

func (r *Resource) Validate() error {
	if !strings.HasSuffix(r.ResourceFileName, ".py") || strings.ContainsAny(r.ResourceFileName, `/\`) {
		return fmt.Errorf("resource_file_name %q must be a bare .py file name", r.ResourceFileName)
	}
	if strings.TrimSpace(r.ResourceCode) == "" {
		return errors.New("resource_code is empty")
	}
	if len(r.APIRoutes) == 0 {
		return errors.New("api_route is empty")
	}
	for _, route := range r.APIRoutes {
		if !strings.HasPrefix(route.URI, "/") || route.ResourceObject == "" {
			return fmt.Errorf("invalid route %+v", route)
		}
	}
	return nil
}

// GeneratedTest is a generated test module
type GeneratedTest struct {
	FullTestCode  string `json:"full_test_code"`
	TestCaseCount int    `json:"test_case_count"`
}

func (g *GeneratedTest) Validate() error {
	if strings.TrimSpace(g.FullTestCode) == "" {
		return errors.New("full_test_code is empty")
	}
	if g.TestCaseCount < 1 {
		return errors.New("test_case_count must be positive")
	}
	return nil
}

// Revision targets
const (
	TargetResource = "resource"
	TargetTest     = "test"
	TargetAPI      = "api"
)

// Revision is one repair step: replacement code for exactly one file
type Revision struct {
	NewCode  string `json:"new_code"`
	Problem  string `json:"what_was_the_problem"`
	Fix      string `json:"what_is_fixed"`
	CodeType string `json:"code_type"`
}

func (r *Revision) Validate() error {
	switch r.CodeType {
	case TargetResource, TargetTest, TargetAPI:
	default:
		return fmt.Errorf("code_type %q must be one of resource, test, api", r.CodeType)
	}
	if strings.TrimSpace(r.NewCode) == "" {
		return errors.New("new_code is empty")
	}
	return nil
}

// Readme is the generated project documentation
type Readme struct {
	MarkdownContent string `json:"md_content"`
}

func (r *Readme) Validate() error {
	if strings.TrimSpace(r.MarkdownContent) == "" {
		return errors.New("md_content is empty")
	}
	return nil
}
