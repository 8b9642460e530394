package domain

import "time"

// ServerStats is the aggregate snapshot pushed by the analysis pipeline
// through stats_update events.
type ServerStats struct {
	TotalMessages    int       `json:"totalMessages"`
	PositiveMessages int       `json:"positiveMessages"`
	ToxicMessages    int       `json:"toxicMessages"`
	ActiveUsers      int       `json:"activeUsers"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// DashboardStats is the statistics view served to the dashboard.
type DashboardStats struct {
	Users            int               `json:"users"`
	TotalMessages    int               `json:"totalMessages"`
	ToxicMessages    int               `json:"toxicMessages"`
	PositiveMessages int               `json:"positiveMessages"`
	ActiveUsers      int               `json:"activeUsers"`
	Infractions      int               `json:"infractions"`
	ByLevel          map[RiskLevel]int `json:"byLevel"`
	AverageRisk      float64           `json:"averageRisk"`
	Server           *ServerStats      `json:"server,omitempty"`
}

// UserStats are the violation counters of one user.
type UserStats struct {
	UserID          int64     `json:"userId"`
	Violations24h   int       `json:"violations24h"`
	Violations7d    int       `json:"violations7d"`
	TotalViolations int       `json:"totalViolations"`
	CurrentLevel    int       `json:"currentLevel"`
	ActivityLevel   string    `json:"activityLevel"`
	IsWhitelisted   bool      `json:"isWhitelisted"`
	RiskScore       int       `json:"riskScore"`
	RiskLevel       RiskLevel `json:"riskLevel"`
}
