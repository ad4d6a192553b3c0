package org

import "time"

// Office is an organisational unit owning its own budget and serials.
type Office struct {
	ID        int64
	Code      string
	Name      string
	Currency  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// User is an employee able to claim, approve or settle.
type User struct {
	ID           int64
	OfficeID     int64
	DisplayName  string
	Email        string
	PasswordHash string
	IsAdmin      bool
	IsAccounting bool
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Group is a named set of users referenced by approver rules.
type Group struct {
	ID        int64
	OfficeID  int64
	Name      string
	CreatedAt time.Time
}
