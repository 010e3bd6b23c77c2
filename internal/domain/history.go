package domain

import "time"

// ExecutionInput captures everything the user entered during one wizard run.
type ExecutionInput struct {
	PersonaForm
	Content   string   `json:"content"`
	ImageURLs []string `json:"imageUrls"`
}

// ExecutionHistoryItem is the persisted record of a completed wizard run.
type ExecutionHistoryItem struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	Input     ExecutionInput `json:"input"`
	Personas  []string       `json:"personas"`
	Feedbacks []Feedback     `json:"feedbacks"`
	CreatedAt time.Time      `json:"createdAt"`
}
