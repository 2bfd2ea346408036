package notification_handler

import (
	"go.uber.org/fx"

	"github.com/fatflowers/subtrack/internal/app/service/entitlement"
	"github.com/fatflowers/subtrack/internal/app/service/ledger"
	"github.com/fatflowers/subtrack/internal/app/service/user"
	"github.com/fatflowers/subtrack/internal/app/service/webhook_log"
	"github.com/fatflowers/subtrack/internal/platform/apple/apple_notification"
)

var Module = fx.Options(
	fx.Provide(
		func() (AppleVerifier, error) { return apple_notification.NewVerifier() },
		func(s *ledger.Service) Recorder { return s },
		func(s *user.Service) Users { return s },
		func(s *entitlement.Service) Syncer { return s },
		func(s *webhook_log.Service) EventSaver { return s },
	),
	fx.Provide(NewNotificationHandler),
)
