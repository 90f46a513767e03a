// Package backend talks to the viewsync API server.
package backend

//go:generate mockery -name Client

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/sidkik/viewsync/pkg/errors"
)

// RequestTimeout bounds every request to the API server.
const RequestTimeout = 30 * time.Second

// Client is used for communicating with the API server.
type Client interface {
	// CurrentUserID returns the id of the authenticated user, or an empty
	// string if the token isn't valid.
	CurrentUserID(ctx context.Context) (string, error)

	// ListExpectedViews returns the views owned by the user.
	ListExpectedViews(ctx context.Context, userID string) ([]View, error)

	// CreateView creates a view of the workspace that will be synced to
	// `mountPath` on `hostname`, and returns its id.
	CreateView(ctx context.Context, workspaceID, mountPath, hostname string) (string, error)

	// AddPublicKey authorizes the key to connect to the sync host as the
	// current user.
	AddPublicKey(ctx context.Context, publicKey string) (string, error)

	// ViewDetails returns what's needed to configure a sync session for the
	// view.
	ViewDetails(ctx context.Context, viewID string) (ViewDetails, error)
}

// View is a view as known by the API server.
type View struct {
	ID        string `json:"id"`
	MountPath string `json:"mountPath"`
}

// ViewDetails describes how a view should be synced. CodebaseID is empty if
// the view isn't attached to a codebase.
type ViewDetails struct {
	CodebaseID   string
	IgnoredPaths []string
}

type graphqlClient struct {
	client *resty.Client
}

// New creates a client for the API server at `apiURL`, authenticated with
// `token`.
func New(apiURL *url.URL, token string) Client {
	client := resty.New().
		SetBaseURL(strings.TrimRight(apiURL.String(), "/")).
		SetTimeout(RequestTimeout).
		SetHeader("Content-Type", "application/json")
	if token != "" {
		client.SetAuthScheme("bearer").SetAuthToken(token)
	}
	return &graphqlClient{client: client}
}

type graphqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphqlError struct {
	Message string `json:"message"`
}

// graphqlResponse is the envelope of every response. Data is set to the
// caller's result before decoding, so that it's decoded in place. A null
// `data` leaves the result untouched.
type graphqlResponse struct {
	Data   interface{}    `json:"data"`
	Errors []graphqlError `json:"errors"`
}

// do runs a GraphQL operation and decodes its `data` into `out`.
func (c *graphqlClient) do(ctx context.Context, query string,
	variables map[string]interface{}, out interface{}) error {

	result := graphqlResponse{Data: out}
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(graphqlRequest{Query: query, Variables: variables}).
		ForceContentType("application/json").
		SetResult(&result).
		Post("/graphql")
	if err != nil {
		return errors.WithContext(err, "post")
	}

	if resp.IsError() {
		return errors.New("server responded with %s", resp.Status())
	}

	if len(result.Errors) != 0 {
		messages := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			messages = append(messages, e.Message)
		}
		return errors.New("graphql: %s", strings.Join(messages, "; "))
	}
	return nil
}
