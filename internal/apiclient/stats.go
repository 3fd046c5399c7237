package apiclient

import (
	"context"

	"kolibri/internal/models"
)

// Summary returns the portfolio overview.
func (c *Client) Summary(ctx context.Context) (*models.StatsSummary, error) {
	var s models.StatsSummary
	if _, err := c.get(ctx, "GET "+statsFamily+"/summary", statsFamily+"/summary", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Dashboard returns the dashboard statistics for role.
func (c *Client) Dashboard(ctx context.Context, role models.Role) (*models.DashboardStats, error) {
	path := statsFamily + "/" + role.DashboardScope()
	var s models.DashboardStats
	if _, err := c.get(ctx, "GET "+statsFamily+"/{scope}", path, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
