package models

import (
	"time"
)

// DefaultSubject is used when a question is posted without one.
const DefaultSubject = "General"

type Question struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	Title      string    `gorm:"size:200;not null" json:"title"`
	Body       string    `gorm:"type:text;not null" json:"body"`
	Subject    string    `gorm:"size:64;not null;index;default:General" json:"subject"`
	AuthorUID  string    `gorm:"size:128;not null;index" json:"author_uid"`
	AuthorName string    `gorm:"size:128" json:"author_name"`
	ImageURL   string    `json:"image_url,omitempty"` // Optional
	CreatedAt  time.Time `gorm:"index" json:"created_at"`

	// 非数据库字段，读取时填充
	BodyHTML    string `gorm:"-" json:"body_html,omitempty"`
	AnswerCount int    `gorm:"-" json:"answer_count"`
}
