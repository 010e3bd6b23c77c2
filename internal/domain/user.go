// Package domain contains core domain types for the persona simulation service.
package domain

// User is the authenticated account as reported by the hosted auth backend.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}
