package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/graphql-go/graphql"

	"github.com/mnohosten/forumidx/pkg/engine"
)

// graphQLHandler exposes the single `query` root field over HTTP POST.
type graphQLHandler struct {
	schema graphql.Schema
}

func newGraphQLHandler(evaluator *engine.Evaluator, cfg *Config) (*graphQLHandler, error) {
	schema, err := buildSchema(evaluator, cfg)
	if err != nil {
		return nil, err
	}
	return &graphQLHandler{schema: schema}, nil
}

type graphQLRequest struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName"`
	Variables     map[string]interface{} `json:"variables"`
}

func (h *graphQLHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "GraphQL only accepts POST requests", http.StatusMethodNotAllowed)
		return
	}

	var req graphQLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeGraphQLError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result := graphql.Do(graphql.Params{
		Schema:         h.schema,
		RequestString:  req.Query,
		VariableValues: req.Variables,
		OperationName:  req.OperationName,
		Context:        r.Context(),
	})

	w.Header().Set("Content-Type", "application/json")
	if len(result.Errors) > 0 {
		w.WriteHeader(http.StatusOK) // GraphQL errors still return 200
	}
	json.NewEncoder(w).Encode(result)
}

func writeGraphQLError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"errors": []map[string]interface{}{{"message": message}},
	})
}

var termIDFType = graphql.NewObject(graphql.ObjectConfig{
	Name:        "TermIDF",
	Description: "The IDF weight the evaluator computed for one query term",
	Fields: graphql.Fields{
		"term": &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		"idf":  &graphql.Field{Type: graphql.NewNonNull(graphql.Float)},
	},
})

var resultType = graphql.NewObject(graphql.ObjectConfig{
	Name:        "QueryResult",
	Description: "One ranked document match",
	Fields: graphql.Fields{
		"documentId":   &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
		"documentName": &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		"similarity":   &graphql.Field{Type: graphql.NewNonNull(graphql.Float)},
		"fulltext":     &graphql.Field{Type: graphql.String},
	},
})

var queryResponseType = graphql.NewObject(graphql.ObjectConfig{
	Name:        "QueryResponse",
	Description: "The ranked results and per-term diagnostics for one query",
	Fields: graphql.Fields{
		"results":     &graphql.Field{Type: graphql.NewList(resultType)},
		"diagnostics": &graphql.Field{Type: graphql.NewList(termIDFType)},
	},
})

// buildSchema defines the single `query` root field the GraphQL surface
// exposes: query(tokens, topK, conjunctive, wantFulltext).
func buildSchema(evaluator *engine.Evaluator, cfg *Config) (graphql.Schema, error) {
	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"query": &graphql.Field{
				Type:        queryResponseType,
				Description: "Run a cosine-TF-IDF query against the sealed index",
				Args: graphql.FieldConfigArgument{
					"tokens": &graphql.ArgumentConfig{
						Type:        graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(graphql.String))),
						Description: "Query tokens, already normalized by the caller",
					},
					"topK": &graphql.ArgumentConfig{
						Type:        graphql.Int,
						Description: "Maximum number of ranked results to return",
					},
					"conjunctive": &graphql.ArgumentConfig{
						Type:         graphql.Boolean,
						DefaultValue: false,
						Description:  "Require every token to match (AND) instead of any (OR)",
					},
					"wantFulltext": &graphql.ArgumentConfig{
						Type:         graphql.Boolean,
						DefaultValue: false,
						Description:  "Include each result's stored fulltext, when the index retained it",
					},
				},
				Resolve: resolveQuery(evaluator, cfg),
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{Query: queryType})
}

func resolveQuery(evaluator *engine.Evaluator, cfg *Config) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		rawTokens, ok := p.Args["tokens"].([]interface{})
		if !ok {
			return nil, fmt.Errorf("tokens is required")
		}
		tokens := make([]string, len(rawTokens))
		for i, t := range rawTokens {
			tokens[i], _ = t.(string)
		}

		req := QueryRequest{Tokens: tokens}
		if topK, ok := p.Args["topK"].(int); ok {
			req.TopK = topK
		}
		if conjunctive, ok := p.Args["conjunctive"].(bool); ok {
			req.Conjunctive = conjunctive
		}
		if wantFulltext, ok := p.Args["wantFulltext"].(bool); ok {
			req.WantFulltext = wantFulltext
		}

		resp, err := evaluator.Evaluate(tokens, resolveParams(cfg, req))
		if err != nil {
			return nil, err
		}

		results := make([]map[string]interface{}, len(resp.Results))
		for i, r := range resp.Results {
			results[i] = map[string]interface{}{
				"documentId":   r.DocumentID,
				"documentName": r.DocumentName,
				"similarity":   r.Similarity,
				"fulltext":     r.Fulltext,
			}
		}
		diagnostics := make([]map[string]interface{}, len(resp.Diagnostics))
		for i, d := range resp.Diagnostics {
			diagnostics[i] = map[string]interface{}{"term": d.Term, "idf": d.IDF}
		}

		return map[string]interface{}{
			"results":     results,
			"diagnostics": diagnostics,
		}, nil
	}
}

// graphiQLHandler serves the GraphiQL playground.
func graphiQLHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(graphiqlHTML))
	}
}

const graphiqlHTML = `
<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>forumidx GraphiQL</title>
    <style>
        body { height: 100vh; margin: 0; width: 100%; overflow: hidden; }
        #graphiql { height: 100vh; }
    </style>
    <script crossorigin src="https://unpkg.com/react@17/umd/react.production.min.js"></script>
    <script crossorigin src="https://unpkg.com/react-dom@17/umd/react-dom.production.min.js"></script>
    <link rel="stylesheet" href="https://unpkg.com/graphiql@1.8.7/graphiql.min.css" />
</head>
<body>
    <div id="graphiql">Loading...</div>
    <script src="https://unpkg.com/graphiql@1.8.7/graphiql.min.js" type="application/javascript"></script>
    <script>
        const fetcher = GraphiQL.createFetcher({ url: '/graphql' });
        ReactDOM.render(
            React.createElement(GraphiQL, {
                fetcher: fetcher,
                defaultQuery: '# query {\n#   query(tokens: ["example"], topK: 10) {\n#     results { documentName similarity }\n#   }\n# }\n',
            }),
            document.getElementById('graphiql'),
        );
    </script>
</body>
</html>
`
