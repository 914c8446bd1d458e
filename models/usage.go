package models

// StoreDayRow is one per-store-per-day counter row. These rows are the
// sole input for active-store reconstruction.
type StoreDayRow struct {
	Seq        string `dynamodbav:"seq" json:"seq"`
	OrderDate  string `dynamodbav:"order_date" json:"order_date"`
	OrderCount int    `dynamodbav:"order_count" json:"order_count"`
}

// DayRow is one per-day counter row. The order_count and store_seqs
// attributes are written by the accumulator; install/churn counters are
// owned by the installation-lifecycle subsystem and only merged here.
// The cumulative fields are pointers so an absent attribute is
// distinguishable from a stored zero; the reader forward-fills across
// absent values only.
type DayRow struct {
	OrderDate           string   `dynamodbav:"order_date" json:"order_date"`
	OrderCount          int      `dynamodbav:"order_count" json:"order_count"`
	StoreSeqs           []string `dynamodbav:"store_seqs,stringset,omitempty" json:"store_seqs,omitempty"`
	NewInstalls         int      `dynamodbav:"new_installs" json:"new_installs"`
	NewChurns           int      `dynamodbav:"new_churns" json:"new_churns"`
	CumulativeInstalled *int     `dynamodbav:"cumulative_installed" json:"cumulative_installed,omitempty"`
	CumulativeChurned   *int     `dynamodbav:"cumulative_churned" json:"cumulative_churned,omitempty"`
}

// SeqStatsRow is the per-store lifetime counter row.
//
// customer_count is incremented per ingestion call by the number of
// distinct order ids in that call, so it over-counts repeat customers
// across calls. Correcting it would require persisting a per-seq
// distinct-id set and would change historical numbers.
type SeqStatsRow struct {
	Seq           string `dynamodbav:"seq" json:"seq"`
	OrderCount    int    `dynamodbav:"order_count" json:"order_count"`
	CustomerCount int    `dynamodbav:"customer_count" json:"customer_count"`
	LastOrderDate string `dynamodbav:"last_order_date" json:"last_order_date"`
	UpdatedAt     string `dynamodbav:"updated_at" json:"updated_at"`
}

// DailyUsage is one day of the reconstructed usage series. Active is the
// count of distinct stores with at least one order in the trailing seven
// days ending on Date.
type DailyUsage struct {
	Date                string `json:"date"`
	Active              int    `json:"active"`
	OrderCount          int    `json:"order_count"`
	NewInstalls         int    `json:"new_installs"`
	NewChurns           int    `json:"new_churns"`
	CumulativeInstalled int    `json:"cumulative_installed"`
	CumulativeChurned   int    `json:"cumulative_churned"`
}

// UsageSummary aggregates the series over days that had any activity.
type UsageSummary struct {
	Period         string  `json:"period"`
	TotalDays      int     `json:"total_days"`
	AvgDailyActive float64 `json:"avg_daily_active"`
	MaxDailyActive int     `json:"max_daily_active"`
}

// UsageReport is the full response payload of the usage reader.
type UsageReport struct {
	Summary    UsageSummary `json:"summary"`
	DailyUsage []DailyUsage `json:"daily_usage"`
}
