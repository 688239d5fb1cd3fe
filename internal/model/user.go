package model

import "time"

type User struct {
	ID          int64      `db:"id" json:"id"`
	Provider    string     `db:"provider" json:"provider"`
	ProviderID  string     `db:"provider_id" json:"-"`
	Email       string     `db:"email" json:"email"`
	Name        string     `db:"name" json:"name"`
	Picture     string     `db:"picture" json:"picture"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
	LastLoginAt *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
	ReportQuota int        `db:"report_quota" json:"report_quota"`
	ReportUsed  int        `db:"report_used" json:"report_used"`
}
