package apiclient

import (
	"context"
	"net/http"
	"net/url"

	"kolibri/internal/models"
	"kolibri/internal/utils"
)

const cooperativesFamily = "/api/housing-cooperatives"

func cooperativePath(org string) string {
	return cooperativesFamily + "/" + url.PathEscape(org)
}

// ListCooperatives returns one page of housing cooperatives.
func (c *Client) ListCooperatives(ctx context.Context, q models.CooperativeQuery) (*models.CooperativePage, error) {
	var coops []models.HousingCooperative
	h, err := c.get(ctx, "GET "+cooperativesFamily, cooperativesFamily, q.Values(), &coops)
	if err != nil {
		return nil, err
	}
	if coops == nil {
		coops = []models.HousingCooperative{}
	}
	return &models.CooperativePage{Cooperatives: coops, Pagination: models.ParsePagination(h)}, nil
}

// GetCooperative looks a cooperative up by organisation number.
func (c *Client) GetCooperative(ctx context.Context, org string) (*models.HousingCooperative, error) {
	if !models.ValidOrgNumber(org) {
		return nil, utils.NewAPIError(http.StatusBadRequest, "organisation number must look like NNNNNN-NNNN")
	}
	var coop models.HousingCooperative
	if _, err := c.get(ctx, "GET "+cooperativesFamily+"/{org}", cooperativePath(org), nil, &coop); err != nil {
		return nil, err
	}
	return &coop, nil
}

// CreateCooperative validates and registers a cooperative.
func (c *Client) CreateCooperative(ctx context.Context, coop *models.HousingCooperative) (*models.HousingCooperative, error) {
	if err := coop.Validate(); err != nil {
		return nil, err
	}
	var out models.HousingCooperative
	err := c.mutate(ctx, call{method: http.MethodPost, path: cooperativesFamily, body: coop}, &out, cooperativesFamily)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateCooperative replaces the cooperative registered under org. The
// organisation number itself cannot change.
func (c *Client) UpdateCooperative(ctx context.Context, org string, coop *models.HousingCooperative) (*models.HousingCooperative, error) {
	if err := coop.ValidateUpdate(org); err != nil {
		return nil, err
	}
	var out models.HousingCooperative
	err := c.mutate(ctx, call{method: http.MethodPut, path: cooperativePath(org), body: coop}, &out, cooperativesFamily, deedsFamily)
	if err != nil {
		return nil, err
	}
	if out.OrganisationNumber == "" {
		out = *coop
	}
	return &out, nil
}

// DeleteCooperative removes a cooperative. The backend refuses while deeds
// still reference it.
func (c *Client) DeleteCooperative(ctx context.Context, org string) error {
	err := c.mutate(ctx, call{method: http.MethodDelete, path: cooperativePath(org)}, nil, cooperativesFamily)
	if apiErr, ok := utils.AsAPIError(err); ok && apiErr.Status == http.StatusConflict {
		return utils.NewAPIError(http.StatusConflict, "the housing cooperative still has active mortgage deeds")
	}
	return err
}
