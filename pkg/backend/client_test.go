package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestServer returns a client connected to a server that replies to every
// request with `response`, and records the requests it receives.
func newTestServer(t *testing.T, status int, response string) (Client, *[]graphqlRequest) {
	var requests []graphqlRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/graphql", r.URL.Path)
		assert.Equal(t, "bearer token", r.Header.Get("Authorization"))

		var req graphqlRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		requests = append(requests, req)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(response))
	}))
	t.Cleanup(server.Close)

	apiURL, err := url.Parse(server.URL + "/api/")
	require.NoError(t, err)
	return New(apiURL, "token"), &requests
}

func TestCurrentUserID(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		response string
		expID    string
		expError bool
	}{
		{
			name:     "Authenticated",
			status:   http.StatusOK,
			response: `{"data": {"user": {"id": "user-1"}}}`,
			expID:    "user-1",
		},
		{
			name:     "NoUser",
			status:   http.StatusOK,
			response: `{"data": {"user": null}}`,
		},
		{
			name:     "GraphQLError",
			status:   http.StatusOK,
			response: `{"data": null, "errors": [{"message": "boom"}, {"message": "bang"}]}`,
			expError: true,
		},
		{
			name:     "HTTPError",
			status:   http.StatusBadGateway,
			response: `bad gateway`,
			expError: true,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			client, _ := newTestServer(t, test.status, test.response)
			id, err := client.CurrentUserID(context.Background())
			if test.expError {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, test.expID, id)
		})
	}
}

func TestGraphQLErrorMessage(t *testing.T) {
	client, _ := newTestServer(t, http.StatusOK,
		`{"errors": [{"message": "boom"}, {"message": "bang"}]}`)
	_, err := client.CurrentUserID(context.Background())
	assert.EqualError(t, err, "query user: graphql: boom; bang")
}

func TestResponseWithoutJSONContentType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(`{"data": {"view": {"ignoredPaths": ["dist"], "codebase": {"id": "cb"}}}}`))
	}))
	defer server.Close()

	apiURL, err := url.Parse(server.URL)
	require.NoError(t, err)

	details, err := New(apiURL, "").ViewDetails(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, ViewDetails{CodebaseID: "cb", IgnoredPaths: []string{"dist"}}, details)
}

func TestListExpectedViews(t *testing.T) {
	client, requests := newTestServer(t, http.StatusOK,
		`{"data": {"views": [{"id": "v1", "mountPath": "/src/a"}, {"id": "v2", "mountPath": "/src/b"}]}}`)

	views, err := client.ListExpectedViews(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, []View{{ID: "v1", MountPath: "/src/a"}, {ID: "v2", MountPath: "/src/b"}}, views)

	require.Len(t, *requests, 1)
	assert.Equal(t, map[string]interface{}{"userID": "user-1"}, (*requests)[0].Variables)
}

func TestCreateView(t *testing.T) {
	client, requests := newTestServer(t, http.StatusOK, `{"data": {"createView": {"id": "view-id"}}}`)

	id, err := client.CreateView(context.Background(), "ws", "/src/app", "laptop")
	require.NoError(t, err)
	assert.Equal(t, "view-id", id)
	assert.Equal(t, map[string]interface{}{
		"workspaceID":   "ws",
		"mountPath":     "/src/app",
		"mountHostname": "laptop",
	}, (*requests)[0].Variables)

	client, _ = newTestServer(t, http.StatusOK, `{"data": {"createView": {"id": ""}}}`)
	_, err = client.CreateView(context.Background(), "ws", "/src/app", "laptop")
	assert.Error(t, err)
}

func TestAddPublicKey(t *testing.T) {
	client, requests := newTestServer(t, http.StatusOK, `{"data": {"addPublicKey": {"id": "key-1"}}}`)

	id, err := client.AddPublicKey(context.Background(), "ssh-ed25519 AAAA")
	require.NoError(t, err)
	assert.Equal(t, "key-1", id)
	assert.Equal(t, map[string]interface{}{"publicKey": "ssh-ed25519 AAAA"}, (*requests)[0].Variables)
}

func TestViewDetails(t *testing.T) {
	tests := []struct {
		name       string
		response   string
		expDetails ViewDetails
	}{
		{
			name:     "Complete",
			response: `{"data": {"view": {"id": "v1", "ignoredPaths": ["build"], "codebase": {"id": "cb"}}}}`,
			expDetails: ViewDetails{
				CodebaseID:   "cb",
				IgnoredPaths: []string{"build"},
			},
		},
		{
			name:       "NoCodebase",
			response:   `{"data": {"view": {"id": "v1", "ignoredPaths": [], "codebase": null}}}`,
			expDetails: ViewDetails{IgnoredPaths: []string{}},
		},
		{
			name:     "NoView",
			response: `{"data": {"view": null}}`,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			client, _ := newTestServer(t, http.StatusOK, test.response)
			details, err := client.ViewDetails(context.Background(), "v1")
			require.NoError(t, err)
			assert.Equal(t, test.expDetails, details)
		})
	}
}
