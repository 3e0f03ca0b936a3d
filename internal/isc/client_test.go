package isc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idclerk/idclerk/internal/log"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{APIURL: srv.URL, Logger: log.NewNop()})
	require.NoError(t, err)
	return c
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestSearchIdentities(t *testing.T) {
	t.Parallel()

	t.Run("single page preserves API order", func(t *testing.T) {
		t.Parallel()
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/v3/search", r.URL.Path)
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

			var req searchRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, []string{"identities"}, req.Indices)
			assert.Equal(t, "name:*alice* || displayName:*alice*", req.Query.Query)
			assert.Equal(t, []string{"+name"}, req.Sort)

			w.Header().Set("X-Total-Count", "2")
			writeJSON(t, w, []Identity{
				{ID: "1", Name: "alice.adams", DisplayName: "Alice Adams", Email: "alice@example.com"},
				{ID: "2", Name: "alice.baker", DisplayName: "Alice Baker", Email: "ab@example.com"},
			})
		}))

		got, err := c.SearchIdentities(context.Background(), "tok", "alice")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "alice.adams", got[0].Name)
		assert.Equal(t, "alice.baker", got[1].Name)
	})

	t.Run("fetches all pages until total exhausted", func(t *testing.T) {
		t.Parallel()
		const total = SearchPageSize + 3

		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			offset, err := strconv.Atoi(r.URL.Query().Get("offset"))
			require.NoError(t, err)
			assert.Equal(t, strconv.Itoa(SearchPageSize), r.URL.Query().Get("limit"))
			assert.Equal(t, "true", r.URL.Query().Get("count"))

			n := SearchPageSize
			if offset+n > total {
				n = total - offset
			}
			page := make([]Identity, 0, n)
			for i := range n {
				page = append(page, Identity{ID: strconv.Itoa(offset + i)})
			}
			w.Header().Set("X-Total-Count", strconv.Itoa(total))
			writeJSON(t, w, page)
		}))

		got, err := c.SearchIdentities(context.Background(), "tok", "a")
		require.NoError(t, err)
		require.Len(t, got, total)
		// Pages concatenate in order.
		for i, id := range got {
			assert.Equal(t, strconv.Itoa(i), id.ID)
		}
	})

	t.Run("missing X-Total-Count stops after first page", func(t *testing.T) {
		t.Parallel()
		var calls int
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			page := make([]Identity, SearchPageSize)
			writeJSON(t, w, page)
		}))

		got, err := c.SearchIdentities(context.Background(), "tok", "a")
		require.NoError(t, err)
		assert.Len(t, got, SearchPageSize)
		assert.Equal(t, 1, calls)
	})

	t.Run("empty result", func(t *testing.T) {
		t.Parallel()
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Total-Count", "0")
			writeJSON(t, w, []Identity{})
		}))

		got, err := c.SearchIdentities(context.Background(), "tok", "nobody")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("non-2xx surfaces as APIError", func(t *testing.T) {
		t.Parallel()
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "forbidden", http.StatusForbidden)
		}))

		_, err := c.SearchIdentities(context.Background(), "tok", "a")
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	})
}

func TestCreateAccessRequest(t *testing.T) {
	t.Parallel()

	t.Run("new requests", func(t *testing.T) {
		t.Parallel()
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v3/access-requests", r.URL.Path)

			var req AccessRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, RequestTypeGrantAccess, req.RequestType)
			assert.Equal(t, []string{"id-1"}, req.RequestedFor)
			require.Len(t, req.RequestedItems, 1)
			assert.Equal(t, TypeRole, req.RequestedItems[0].Type)

			w.WriteHeader(http.StatusAccepted)
			writeJSON(t, w, AccessRequestResponse{
				NewRequests: []AccessRequestReference{
					{RequestedFor: "id-1", AccessRequestIDs: []string{"req-1", "req-2"}},
				},
			})
		}))

		got, err := c.CreateAccessRequest(context.Background(), "tok", AccessRequest{
			RequestedFor:   []string{"id-1"},
			RequestType:    RequestTypeGrantAccess,
			RequestedItems: []RequestedItem{{Type: TypeRole, ID: "role-1"}},
		})
		require.NoError(t, err)
		require.Len(t, got.NewRequests, 1)
		assert.Equal(t, []string{"req-1", "req-2"}, got.NewRequests[0].AccessRequestIDs)
		assert.Empty(t, got.ExistingRequests)
	})

	t.Run("existing requests pass through", func(t *testing.T) {
		t.Parallel()
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, AccessRequestResponse{
				ExistingRequests: []AccessRequestReference{
					{RequestedFor: "id-1", AccessRequestIDs: []string{"req-old"}},
				},
			})
		}))

		got, err := c.CreateAccessRequest(context.Background(), "tok", AccessRequest{})
		require.NoError(t, err)
		assert.Empty(t, got.NewRequests)
		assert.Len(t, got.ExistingRequests, 1)
	})

	t.Run("non-2xx surfaces as APIError", func(t *testing.T) {
		t.Parallel()
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad request", http.StatusBadRequest)
		}))

		_, err := c.CreateAccessRequest(context.Background(), "tok", AccessRequest{})
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	})
}

func TestListRequestableObjects(t *testing.T) {
	t.Parallel()

	t.Run("identity scoped", func(t *testing.T) {
		t.Parallel()
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v3/requestable-objects", r.URL.Path)
			q := r.URL.Query()
			assert.Equal(t, TypeRole, q.Get("types"))
			assert.Equal(t, StatusAvailable, q.Get("statuses"))
			assert.Equal(t, "engineering", q.Get("term"))
			assert.Equal(t, "id-1", q.Get("identity-id"))

			writeJSON(t, w, []RequestableObject{
				{ID: "r1", Name: "Engineering Role", Type: TypeRole, Description: "eng access"},
			})
		}))

		got, err := c.ListRequestableObjects(context.Background(), "tok", "id-1", "engineering")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "Engineering Role", got[0].Name)
	})

	t.Run("unscoped when identity omitted", func(t *testing.T) {
		t.Parallel()
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.False(t, r.URL.Query().Has("identity-id"))
			writeJSON(t, w, []RequestableObject{})
		}))

		got, err := c.ListRequestableObjects(context.Background(), "tok", "", "x")
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestListAccessRequestStatus(t *testing.T) {
	t.Parallel()

	t.Run("executing requests", func(t *testing.T) {
		t.Parallel()
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v3/access-request-status", r.URL.Path)
			assert.Equal(t, RequestStateExecuting, r.URL.Query().Get("request-state"))

			writeJSON(t, w, []AccessRequestStatus{
				{
					AccessRequestID: "req-1",
					Name:            "Engineering Role",
					State:           RequestStateExecuting,
					RequestType:     RequestTypeGrantAccess,
					RequestedFor:    RequestedForIdentity{ID: "id-1", Name: "alice.adams", Type: "IDENTITY"},
					Phases:          []AccessRequestPhase{{Name: "APPROVAL_PHASE", State: "PENDING"}},
				},
			})
		}))

		got, err := c.ListAccessRequestStatus(context.Background(), "tok", RequestStateExecuting)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "req-1", got[0].AccessRequestID)
		assert.Equal(t, "alice.adams", got[0].RequestedFor.Name)
	})

	t.Run("empty listing", func(t *testing.T) {
		t.Parallel()
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, []AccessRequestStatus{})
		}))

		got, err := c.ListAccessRequestStatus(context.Background(), "tok", RequestStateExecuting)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestAPIError_Error(t *testing.T) {
	t.Parallel()

	err := &APIError{StatusCode: 403, Body: "forbidden"}
	assert.Equal(t, "governance API returned status 403: forbidden", err.Error())
	assert.Equal(t, fmt.Sprintf("%v", err), err.Error())
}
