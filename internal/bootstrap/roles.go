package bootstrap

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/valora-onboarding/internal/domain"
	"github.com/smallbiznis/valora-onboarding/internal/repository"
)

// EnsureAdminRole seeds the admin role at startup if missing. Onboarding
// refuses to provision an organization without it.
func EnsureAdminRole(lc fx.Lifecycle, roles repository.RoleRepository, node *snowflake.Node, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return ensureAdminRole(ctx, roles, node, logger)
		},
	})
}

func ensureAdminRole(ctx context.Context, roles repository.RoleRepository, node *snowflake.Node, logger *zap.Logger) error {
	role, err := roles.Ensure(ctx, node.Generate().Int64(), domain.AdminRoleName)
	if err != nil {
		return fmt.Errorf("bootstrap admin role: %w", err)
	}

	if logger != nil {
		logger.Info("bootstrap admin role ready",
			zap.Int64("role_id", role.ID),
			zap.String("role_name", role.Name),
		)
	}
	return nil
}
