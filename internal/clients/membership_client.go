// internal/clients/membership_client.go
package clients

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"libracirc/internal/library"
	"libracirc/internal/membership"
)

type MembershipClient struct {
	client
}

func NewMembershipClient(baseURL string, hc *http.Client) *MembershipClient {
	return &MembershipClient{client: newClient(baseURL, hc)}
}

func (c *MembershipClient) RegisterUser(ctx context.Context, reg membership.Registration) (library.User, error) {
	var u library.User
	err := c.do(ctx, http.MethodPost, "/users", uuid.Nil, reg, &u)
	return u, err
}

func (c *MembershipClient) GetUser(ctx context.Context, id uuid.UUID) (library.User, error) {
	var u library.User
	err := c.do(ctx, http.MethodGet, "/users/"+id.String(), uuid.Nil, nil, &u)
	return u, err
}

// Authenticate fails with library.ErrInvalidCredentials or library.ErrRateLimited like the service does.
func (c *MembershipClient) Authenticate(ctx context.Context, email, password string) (library.User, error) {
	req := struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}{email, password}

	var u library.User
	err := c.do(ctx, http.MethodPost, "/login", uuid.Nil, req, &u)
	return u, err
}
