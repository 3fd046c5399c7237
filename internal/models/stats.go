package models

// StatsSummary is the portfolio overview returned by /api/statistics/summary.
type StatsSummary struct {
	TotalDeeds              int                `json:"total_deeds"`
	TotalCooperatives       int                `json:"total_cooperatives"`
	StatusDistribution      map[DeedStatus]int `json:"status_distribution"`
	AverageBorrowersPerDeed float64            `json:"average_borrowers_per_deed"`
}

// DashboardStats is the role specific dashboard payload.
type DashboardStats struct {
	TotalDeeds         int            `json:"total_deeds"`
	CreatedDeeds       int            `json:"created_deeds"`
	PendingBorrower    int            `json:"pending_borrower_signature"`
	PendingCooperative int            `json:"pending_cooperative_signature"`
	CompletedDeeds     int            `json:"completed_deeds"`
	TotalCooperatives  int            `json:"total_cooperatives,omitempty"`
	RecentDeeds        []MortgageDeed `json:"recent_deeds"`
}

// Pending is the number of deeds waiting on any signature.
func (s DashboardStats) Pending() int {
	return s.PendingBorrower + s.PendingCooperative
}
