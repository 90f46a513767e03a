package login

import (
	"bytes"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/viewsync/pkg/backend"
	"github.com/sidkik/viewsync/pkg/backend/mocks"
	"github.com/sidkik/viewsync/pkg/config"
	"github.com/sidkik/viewsync/pkg/errors"
)

func TestGenerateCredentials(t *testing.T) {
	parseUserConfig = func() (config.User, error) {
		return config.User{
			APIURL:      "https://api.example.com",
			SyncHostURL: "ssh://sync.example.com:22",
		}, nil
	}
	defer func() { parseUserConfig = config.ParseUser }()

	// Keep the current API URL, type in the sync host, and the token.
	stdin = strings.NewReader("1\n" +
		"2\nssh://other.example.com:2222\n" +
		"secret\n")
	stdout = &bytes.Buffer{}

	creds, err := generateCredentials(config.User{})
	require.NoError(t, err)
	assert.Equal(t, config.User{
		APIURL:      "https://api.example.com",
		SyncHostURL: "ssh://other.example.com:2222",
		Token:       "secret",
	}, creds)
}

func TestGenerateCredentialsFromFlags(t *testing.T) {
	parseUserConfig = func() (config.User, error) {
		return config.User{}, errors.New("no config")
	}
	defer func() { parseUserConfig = config.ParseUser }()

	// Only the token is prompted for.
	stdin = strings.NewReader("secret\n")
	out := &bytes.Buffer{}
	stdout = out

	creds, err := generateCredentials(config.User{
		APIURL:      "https://api.example.com",
		SyncHostURL: "ssh://sync.example.com:22",
	})
	require.NoError(t, err)
	assert.Equal(t, "secret", creds.Token)
	assert.Contains(t, out.String(), "API token:")
	assert.NotContains(t, out.String(), "API URL:")
}

func TestLogin(t *testing.T) {
	tests := []struct {
		name     string
		userID   string
		expSaved bool
	}{
		{
			name:     "ValidToken",
			userID:   "user",
			expSaved: true,
		},
		{
			name:   "RejectedToken",
			userID: "",
		},
	}

	parseUserConfig = func() (config.User, error) { return config.User{}, nil }
	defer func() {
		parseUserConfig = config.ParseUser
		newClient = backend.New
		updateUser = config.UpdateUser
	}()
	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			client := &mocks.Client{}
			client.On("CurrentUserID", mock.Anything).Return(test.userID, nil)
			newClient = func(apiURL *url.URL, token string) backend.Client {
				assert.Equal(t, "api.example.com", apiURL.Host)
				assert.Equal(t, "secret", token)
				return client
			}

			saved := config.User{Views: []config.View{{ID: "view", Path: "/code"}}}
			var didSave bool
			updateUser = func(update func(*config.User)) error {
				didSave = true
				update(&saved)
				return nil
			}
			stdout = &bytes.Buffer{}

			err := Main(config.User{
				APIURL:      "https://api.example.com",
				SyncHostURL: "ssh://sync.example.com:22",
				Token:       "secret",
			})
			if test.expSaved {
				require.NoError(t, err)
				assert.Equal(t, config.User{
					APIURL:      "https://api.example.com",
					SyncHostURL: "ssh://sync.example.com:22",
					Token:       "secret",
					Views:       []config.View{{ID: "view", Path: "/code"}},
				}, saved)
			} else {
				assert.Error(t, err)
				assert.False(t, didSave)
			}
		})
	}
}
