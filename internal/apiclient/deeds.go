package apiclient

import (
	"context"
	"net/http"
	"strconv"

	"kolibri/internal/models"
)

const deedsFamily = "/api/mortgage-deeds"

func deedPath(id int64) string {
	return deedsFamily + "/" + strconv.FormatInt(id, 10)
}

// ListDeeds returns one page of deeds matching f.
func (c *Client) ListDeeds(ctx context.Context, f models.DeedFilters) (*models.DeedPage, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	var deeds []models.MortgageDeed
	h, err := c.get(ctx, "GET "+deedsFamily, deedsFamily, f.Values(), &deeds)
	if err != nil {
		return nil, err
	}
	if deeds == nil {
		deeds = []models.MortgageDeed{}
	}
	return &models.DeedPage{Deeds: deeds, Pagination: models.ParsePagination(h)}, nil
}

// GetDeed fetches a single deed.
func (c *Client) GetDeed(ctx context.Context, id int64) (*models.MortgageDeed, error) {
	var d models.MortgageDeed
	if _, err := c.get(ctx, "GET "+deedsFamily+"/{id}", deedPath(id), nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// CreateDeed validates d and creates it. The backend's copy is returned.
func (c *Client) CreateDeed(ctx context.Context, d *models.MortgageDeed) (*models.MortgageDeed, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	var out models.MortgageDeed
	err := c.mutate(ctx, call{method: http.MethodPost, path: deedsFamily + "/create", body: d}, &out, deedsFamily)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateDeed validates d and replaces deed id with it.
func (c *Client) UpdateDeed(ctx context.Context, id int64, d *models.MortgageDeed) (*models.MortgageDeed, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	var out models.MortgageDeed
	err := c.mutate(ctx, call{method: http.MethodPut, path: deedPath(id), body: d}, &out, deedsFamily)
	if err != nil {
		return nil, err
	}
	if out.ID == 0 {
		out = *d
		out.ID = id
	}
	return &out, nil
}

// DeleteDeed removes a deed.
func (c *Client) DeleteDeed(ctx context.Context, id int64) error {
	return c.mutate(ctx, call{method: http.MethodDelete, path: deedPath(id)}, nil, deedsFamily)
}

// SendForSigning moves a deed into the signing flow. The backend mails a
// signing link to every borrower.
func (c *Client) SendForSigning(ctx context.Context, id int64) error {
	path := deedsFamily + "/deeds/" + strconv.FormatInt(id, 10) + "/send-for-signing"
	return c.mutate(ctx, call{method: http.MethodPost, path: path}, nil, deedsFamily)
}

// AuditLogs returns the deed's audit trail, oldest first.
func (c *Client) AuditLogs(ctx context.Context, id int64) ([]models.AuditLogEntry, error) {
	var logs []models.AuditLogEntry
	if _, err := c.get(ctx, "GET "+deedsFamily+"/{id}/audit-logs", deedPath(id)+"/audit-logs", nil, &logs); err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []models.AuditLogEntry{}
	}
	return logs, nil
}
