package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dvilelaf/tsunami/pkg/clients"
)

// Subgraph posts GraphQL queries to a graph-node endpoint.
type Subgraph struct {
	http *clients.Requester
	url  string
}

func NewSubgraph(name, url string, opts ...clients.Option) *Subgraph {
	return &Subgraph{http: clients.NewRequester(name, opts...), url: url}
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

// Query runs query and decodes its data object into out.
func (s *Subgraph) Query(ctx context.Context, query string, vars map[string]any, out any) error {
	var resp graphQLResponse
	if err := s.http.DoJSON(ctx, http.MethodPost, s.url, graphQLRequest{Query: query, Variables: vars}, nil, &resp); err != nil {
		return err
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			msgs = append(msgs, e.Message)
		}
		return fmt.Errorf("%s: %s", s.http.Name(), strings.Join(msgs, "; "))
	}
	if len(resp.Data) == 0 || string(resp.Data) == "null" {
		return errors.New(s.http.Name() + ": response has no data")
	}
	return json.Unmarshal(resp.Data, out)
}
