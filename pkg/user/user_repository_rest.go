package user

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/maximthomas/goradius/pkg/log"
	"github.com/pkg/errors"
)

// userRestRepository talks to an external user service:
// GET {endpoint}/users/{id} and POST {endpoint}/users/{id}/validatepassword.
type userRestRepository struct {
	endpoint string
	client   *http.Client
}

func (ur *userRestRepository) do(ctx context.Context, method, path string, body interface{}, result interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, ur.endpoint+path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := ur.client.Do(req)
	if err != nil {
		return 0, errors.Wrap(err, "user service request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return resp.StatusCode, nil
	}
	if resp.StatusCode >= 300 {
		return resp.StatusCode, errors.Errorf("got bad response from user service: %s", resp.Status)
	}
	if result == nil {
		return resp.StatusCode, nil
	}
	return resp.StatusCode, errors.Wrap(json.NewDecoder(resp.Body).Decode(result), "error decoding user service response")
}

func (ur *userRestRepository) GetUser(ctx context.Context, id string) (user User, exists bool, err error) {
	status, err := ur.do(ctx, http.MethodGet, "/users/"+url.PathEscape(id), nil, &user)
	if err != nil || status == http.StatusNotFound {
		return User{}, false, err
	}
	log.WithField("module", "user").Debugf("got user: %v", user.ID)
	return user, true, nil
}

func (ur *userRestRepository) ValidatePassword(ctx context.Context, id, password string) (bool, error) {
	var vpr ValidatePasswordResult
	status, err := ur.do(ctx, http.MethodPost, "/users/"+url.PathEscape(id)+"/validatepassword", Password{Password: password}, &vpr)
	if err != nil || status == http.StatusNotFound {
		return false, err
	}
	return vpr.Valid, nil
}

func (ur *userRestRepository) CreateUser(ctx context.Context, user User) (User, error) {
	var created User
	if _, err := ur.do(ctx, http.MethodPost, "/users", user, &created); err != nil {
		return user, err
	}
	return created, nil
}

func (ur *userRestRepository) SetPassword(ctx context.Context, id, password string) error {
	status, err := ur.do(ctx, http.MethodPost, "/users/"+url.PathEscape(id)+"/setpassword", Password{Password: password}, nil)
	if err == nil && status == http.StatusNotFound {
		return errors.Wrap(ErrUserNotFound, id)
	}
	return err
}

func newUserRestRepository(endpoint string, timeout time.Duration) *userRestRepository {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &userRestRepository{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}
