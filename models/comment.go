package models

import "time"

// Comment is a reply to a post. ParentID points at another comment of the
// same post when the comment answers a comment rather than the post itself,
// forming a reply tree. Blocked comments stay in the table but never surface
// in listings.
type Comment struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	PostID      uint      `gorm:"index;not null" json:"post_id"`
	ParentID    *uint     `gorm:"index" json:"parent_id"`
	UserID      uint      `gorm:"index;not null" json:"user_id"`
	Content     string    `gorm:"type:text;not null" json:"content"`
	IsBlocked   bool      `gorm:"default:false" json:"is_blocked"`
	BlockReason string    `gorm:"size:255;default:''" json:"block_reason"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	User        User      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"author"`
	Replies     []Comment `gorm:"foreignKey:ParentID" json:"replies,omitempty"`
}
