package domain

import "time"

// RewardTransaction is one grant of reputation points.
type RewardTransaction struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"userId"`
	Points    int       `json:"points"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"createdAt"`
}

// RewardTotal is the accumulated reputation of one user.
type RewardTotal struct {
	UserID       int64 `json:"userId"`
	Points       int   `json:"points"`
	Transactions int   `json:"transactions"`
}
