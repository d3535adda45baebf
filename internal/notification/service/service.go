// Package service persists department notifications and relays them over
// the configured sender.
package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/adrijusxx/linehaul/internal/clock"
	"github.com/adrijusxx/linehaul/internal/config"
	"github.com/adrijusxx/linehaul/internal/notification/domain"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Config config.Config
	Sender domain.Sender
}

type service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	sender     domain.Sender
	recipients map[domain.Department][]string
}

func Provide(p Params) domain.Notifier {
	return &service{
		db:     p.DB,
		log:    p.Log.Named("notification"),
		genID:  p.GenID,
		clock:  p.Clock,
		sender: p.Sender,
		recipients: map[domain.Department][]string{
			domain.DepartmentAR:         splitAddrs(p.Config.ARTeamEmails),
			domain.DepartmentAccounting: splitAddrs(p.Config.AccountingTeamEmails),
			domain.DepartmentDispatch:   splitAddrs(p.Config.DispatchTeamEmails),
		},
	}
}

func splitAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

func (s *service) Notify(ctx context.Context, companyID snowflake.ID, department domain.Department, subject, body string, metadata map[string]any) error {
	n := domain.Notification{
		ID:         s.genID.Generate(),
		CompanyID:  companyID,
		Department: department,
		Subject:    subject,
		Body:       body,
		Metadata:   datatypes.JSONMap(metadata),
		CreatedAt:  s.clock.Now(),
	}
	if n.Metadata == nil {
		n.Metadata = datatypes.JSONMap{}
	}
	if err := s.db.WithContext(ctx).Create(&n).Error; err != nil {
		return fmt.Errorf("persist notification: %w", err)
	}

	// Email relay is best effort. The inbox row is the source of truth.
	if to := s.recipients[department]; len(to) > 0 {
		if err := s.sender.Send(ctx, to, subject, body); err != nil {
			s.log.Warn("notification email relay failed",
				zap.String("department", string(department)),
				zap.Error(err))
		}
	}
	return nil
}
