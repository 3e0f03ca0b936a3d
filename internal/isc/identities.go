package isc

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// SearchPageSize is the page size used for identity search pagination.
const SearchPageSize = 25

// Identity is one row from the identities search index.
type Identity struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

// searchQuery is the full-text query of a search request.
type searchQuery struct {
	Query string `json:"query"`
}

// queryResultFilter trims search rows to the fields the UI renders.
type queryResultFilter struct {
	Includes []string `json:"includes"`
	Excludes []string `json:"excludes"`
}

// searchRequest is the POST /v3/search body.
type searchRequest struct {
	Indices           []string          `json:"indices"`
	Query             searchQuery       `json:"query"`
	Sort              []string          `json:"sort"`
	QueryResultFilter queryResultFilter `json:"queryResultFilter"`
}

// SearchIdentities runs a paginated full-text search over the identities
// index, matching name or displayName against the keyword with
// case-insensitive wildcard semantics, sorted ascending by name.
//
// Pages of SearchPageSize are fetched until the X-Total-Count header is
// exhausted. A missing or malformed header means the total is unknown; the
// search stops after the first page rather than guessing.
func (c *Client) SearchIdentities(ctx context.Context, token, keyword string) ([]Identity, error) {
	body := searchRequest{
		Indices: []string{"identities"},
		Query:   searchQuery{Query: fmt.Sprintf("name:*%s* || displayName:*%s*", keyword, keyword)},
		Sort:    []string{"+name"},
		QueryResultFilter: queryResultFilter{
			Includes: []string{"id", "name", "displayName", "email"},
			Excludes: []string{"stacktrace", "_type", "type", "_version"},
		},
	}

	var all []Identity
	offset := 0
	for {
		query := url.Values{
			"limit":  {strconv.Itoa(SearchPageSize)},
			"offset": {strconv.Itoa(offset)},
			"count":  {"true"},
		}

		resp, err := c.do(ctx, token, http.MethodPost, "/v3/search", query, body)
		if err != nil {
			return nil, err
		}

		totalHeader := resp.Header.Get("X-Total-Count")

		var page []Identity
		if err := decode(resp, &page); err != nil {
			return nil, fmt.Errorf("identity search: %w", err)
		}
		all = append(all, page...)

		total, err := strconv.Atoi(totalHeader)
		if err != nil {
			// Unknown total: stop after the first page instead of paging blind.
			c.logger.Debug("identity search missing X-Total-Count, stopping after first page",
				"rows", len(all))
			return all, nil
		}

		offset += len(page)
		if offset >= total || len(page) == 0 {
			return all, nil
		}
	}
}
