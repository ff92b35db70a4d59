package domain

import "time"

// CodeShare 表示一个限时分享的代码片段。
// Password 字段存储 bcrypt 哈希，绝不存储明文。
type CodeShare struct {
	ID          uint      `gorm:"primaryKey"`
	LinkID      string    `gorm:"uniqueIndex;size:191;not null"` // 分享链接 ID
	Code        string    `gorm:"type:longtext;not null"`
	IsProtected bool      `gorm:"not null;default:false"`
	Password    string    `gorm:"type:text"` // bcrypt 哈希
	ExpiresAt   time.Time `gorm:"index;not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

// Expired 判断分享在给定时刻是否已过期。
func (s *CodeShare) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
