package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/matiasleandrokruk/cpsdata/internal/domain/schooldb"
	"github.com/matiasleandrokruk/cpsdata/internal/domain/websearch"
)

const (
	BuiltinQuerySchools  = "query_schools_and_neighborhoods"
	BuiltinQueryWebsites = "query_school_websites"
)

// SchoolQuerier runs a pre-guarded read query against the school database.
type SchoolQuerier interface {
	Execute(ctx context.Context, query string) ([]schooldb.Record, error)
}

// WebSearcher runs the semantic search pipeline.
type WebSearcher interface {
	Search(ctx context.Context, req websearch.Request) ([]websearch.Result, error)
}

// BuiltinServices carries the executors behind the built-in tools.
type BuiltinServices struct {
	School SchoolQuerier
	Web    WebSearcher
}

// RegisterBuiltins declares the two data tools on the registry.
func RegisterBuiltins(r *Registry, svc BuiltinServices) error {
	if err := r.Register(querySchoolsDescriptor(), querySchoolsHandler(svc.School)); err != nil {
		return err
	}
	return r.Register(queryWebsitesDescriptor(), queryWebsitesHandler(svc.Web))
}

func querySchoolsDescriptor() Descriptor {
	return Descriptor{
		Name: BuiltinQuerySchools,
		Description: `Execute a SELECT query on a table of Chicago public schools and their neighborhoods called "schooltoneighborhood" with the following schema:
    id INTEGER NOT NULL,
    created_at DATETIME NOT NULL,
    school_id INTEGER NOT NULL,
    school_name VARCHAR NOT NULL,
    neighborhood VARCHAR NOT NULL,
    PRIMARY KEY (id)

"school_name" is always all-caps but "neighborhood" is not.`,
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "SELECT SQL query to execute",
				},
			},
			"required": []string{"query"},
		},
	}
}

func queryWebsitesDescriptor() Descriptor {
	return Descriptor{
		Name:        BuiltinQueryWebsites,
		Description: "Query a database of Chicago public school websites for context relevant to answering a given question.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"question": map[string]any{
					"type":        "string",
					"description": "Question to answer using relevant context from the school websites.",
				},
				"school_name": map[string]any{
					"type":        "string",
					"description": "Optional filter to only search within a specific school's website.",
				},
			},
			"required": []string{"question"},
		},
	}
}

// querySchoolsHandler guards the query, runs it, and renders the rows as a
// JSON array preserving column order. The guard runs before the executor so
// a rejected query never opens the store.
func querySchoolsHandler(querier SchoolQuerier) Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		query, err := stringArg(args, "query")
		if err != nil {
			return "", err
		}
		if schooldb.Classify(query) == schooldb.ClassificationRejected {
			return "", schooldb.ErrQueryNotAllowed
		}

		records, err := querier.Execute(ctx, query)
		if err != nil {
			return "", err
		}
		return renderJSON(records)
	}
}

// queryWebsitesHandler runs the semantic search and renders the ranked
// results as a JSON array.
func queryWebsitesHandler(searcher WebSearcher) Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		question, err := stringArg(args, "question")
		if err != nil {
			return "", err
		}

		schoolName := ""
		if raw, ok := args["school_name"]; ok {
			s, isString := raw.(string)
			if !isString {
				return "", fmt.Errorf("argument school_name must be a string")
			}
			schoolName = s
		}

		results, err := searcher.Search(ctx, websearch.Request{
			Question:   question,
			SchoolName: schoolName,
		})
		if err != nil {
			return "", err
		}
		return renderJSON(results)
	}
}

// stringArg extracts a required string argument.
func stringArg(args map[string]any, key string) (string, error) {
	raw, ok := args[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingArgument, key)
	}
	s, isString := raw.(string)
	if !isString {
		return "", fmt.Errorf("argument %s must be a string", key)
	}
	return s, nil
}

// renderJSON marshals a result sequence into the single text payload sent
// back through the protocol.
func renderJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("render result: %w", err)
	}
	return string(b), nil
}
