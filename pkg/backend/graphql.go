package backend

import (
	"context"

	"github.com/sidkik/viewsync/pkg/errors"
)

const (
	currentUserQuery = `query CurrentUser { user { id } }`

	viewsQuery = `query UserViews($userID: ID!) {
  views(userID: $userID) { id mountPath }
}`

	createViewMutation = `mutation CreateView($workspaceID: ID!, $mountPath: String!, $mountHostname: String!) {
  createView(input: {workspaceID: $workspaceID, mountPath: $mountPath, mountHostname: $mountHostname}) { id }
}`

	addPublicKeyMutation = `mutation AddPublicKey($publicKey: String!) {
  addPublicKey(input: {publicKey: $publicKey}) { id }
}`

	viewDetailsQuery = `query ViewDetails($viewID: ID!) {
  view(id: $viewID) { id ignoredPaths codebase { id } }
}`
)

func (c *graphqlClient) CurrentUserID(ctx context.Context) (string, error) {
	var data struct {
		User *struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	if err := c.do(ctx, currentUserQuery, nil, &data); err != nil {
		return "", errors.WithContext(err, "query user")
	}

	if data.User == nil {
		return "", nil
	}
	return data.User.ID, nil
}

func (c *graphqlClient) ListExpectedViews(ctx context.Context, userID string) ([]View, error) {
	var data struct {
		Views []View `json:"views"`
	}
	err := c.do(ctx, viewsQuery, map[string]interface{}{"userID": userID}, &data)
	if err != nil {
		return nil, errors.WithContext(err, "query views")
	}
	return data.Views, nil
}

func (c *graphqlClient) CreateView(ctx context.Context, workspaceID, mountPath, hostname string) (string, error) {
	var data struct {
		CreateView struct {
			ID string `json:"id"`
		} `json:"createView"`
	}
	err := c.do(ctx, createViewMutation, map[string]interface{}{
		"workspaceID":   workspaceID,
		"mountPath":     mountPath,
		"mountHostname": hostname,
	}, &data)
	if err != nil {
		return "", errors.WithContext(err, "create view")
	}

	if data.CreateView.ID == "" {
		return "", errors.New("server did not return a view id")
	}
	return data.CreateView.ID, nil
}

func (c *graphqlClient) AddPublicKey(ctx context.Context, publicKey string) (string, error) {
	var data struct {
		AddPublicKey struct {
			ID string `json:"id"`
		} `json:"addPublicKey"`
	}
	err := c.do(ctx, addPublicKeyMutation, map[string]interface{}{"publicKey": publicKey}, &data)
	if err != nil {
		return "", errors.WithContext(err, "add public key")
	}
	return data.AddPublicKey.ID, nil
}

func (c *graphqlClient) ViewDetails(ctx context.Context, viewID string) (ViewDetails, error) {
	var data struct {
		View *struct {
			IgnoredPaths []string `json:"ignoredPaths"`
			Codebase     *struct {
				ID string `json:"id"`
			} `json:"codebase"`
		} `json:"view"`
	}
	err := c.do(ctx, viewDetailsQuery, map[string]interface{}{"viewID": viewID}, &data)
	if err != nil {
		return ViewDetails{}, errors.WithContext(err, "query view")
	}

	if data.View == nil {
		return ViewDetails{}, nil
	}

	details := ViewDetails{IgnoredPaths: data.View.IgnoredPaths}
	if data.View.Codebase != nil {
		details.CodebaseID = data.View.Codebase.ID
	}
	return details, nil
}
