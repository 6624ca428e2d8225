package model

import "time"

const MaxTitleLength = 200

type Recipe struct {
	ID                int64
	Title             string
	Description       string
	NotificationEmail *string
	CreatedAt         time.Time
}
