package models

import "time"

// Post is a user submission. A post is never rejected outright: content that
// fails moderation is persisted with IsBlocked set and the offending category
// recorded in BlockReason, and filtered out of public listings.
type Post struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	UserID           uint      `gorm:"index;not null" json:"user_id"`
	Title            string    `gorm:"size:255;not null" json:"title"`
	Content          string    `gorm:"type:text;not null" json:"content"`
	IsBlocked        bool      `gorm:"default:false" json:"is_blocked"`
	BlockReason      string    `gorm:"size:255;default:''" json:"block_reason"`
	AutoReplyEnabled bool      `gorm:"default:false" json:"auto_reply_enabled"`
	ReplyDelay       int       `gorm:"default:0" json:"reply_delay"` // minutes
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	User             User      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"author"`
	Comments         []Comment `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"comments,omitempty"`
}
