// internal/clients/catalog_client.go
package clients

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"libracirc/internal/catalog"
	"libracirc/internal/library"
)

type CatalogClient struct {
	client
}

// NewCatalogClient talks to the catalog service at baseURL. A nil hc uses a client with a 10s timeout.
func NewCatalogClient(baseURL string, hc *http.Client) *CatalogClient {
	return &CatalogClient{client: newClient(baseURL, hc)}
}

func (c *CatalogClient) AddBook(ctx context.Context, in library.BookInput, copies int) (catalog.BookDetails, error) {
	req := struct {
		library.BookInput
		Copies int `json:"copies"`
	}{in, copies}

	var details catalog.BookDetails
	err := c.do(ctx, http.MethodPost, "/books", uuid.Nil, req, &details)
	return details, err
}

func (c *CatalogClient) GetBook(ctx context.Context, id int64) (catalog.BookDetails, error) {
	var details catalog.BookDetails
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/books/%d", id), uuid.Nil, nil, &details)
	return details, err
}

func (c *CatalogClient) CountAvailable(ctx context.Context, bookID int64) (int, error) {
	var resp struct {
		Available int `json:"available"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/books/%d/available", bookID), uuid.Nil, nil, &resp)
	return resp.Available, err
}

func (c *CatalogClient) UpdateCopyLocation(ctx context.Context, copyID int64, location string) (library.Copy, error) {
	req := struct {
		Location string `json:"location"`
	}{location}

	var cp library.Copy
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/copies/%d", copyID), uuid.Nil, req, &cp)
	return cp, err
}
