// Package domain contains department notification types.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Department is a back-office team that receives workflow notifications.
type Department string

const (
	DepartmentAR         Department = "AR"
	DepartmentAccounting Department = "ACCOUNTING"
	DepartmentDispatch   Department = "DISPATCH"
)

// Notification is a persisted message to a department inbox. Delivery over
// email is best effort on top of the persisted row.
type Notification struct {
	ID         snowflake.ID      `gorm:"primaryKey"`
	CompanyID  snowflake.ID      `gorm:"not null;index"`
	Department Department        `gorm:"type:text;not null;index"`
	Subject    string            `gorm:"not null"`
	Body       string            `gorm:"type:text;not null"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	ReadAt     *time.Time
	CreatedAt  time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Notification) TableName() string { return "notifications" }

// Notifier fans a message out to a department. Implementations must not
// block the caller's workflow on delivery failures beyond returning the
// error; callers log and continue.
type Notifier interface {
	Notify(ctx context.Context, companyID snowflake.ID, department Department, subject, body string, metadata map[string]any) error
}

// Sender delivers a rendered message out of process.
type Sender interface {
	Send(ctx context.Context, to []string, subject, body string) error
}
