package transaction

import (
	"go.uber.org/fx"

	"github.com/fatflowers/subtrack/internal/app/service/ledger"
	"github.com/fatflowers/subtrack/internal/app/service/webhook_log"
)

// Module exposes the transaction service via Fx.
var Module = fx.Options(
	fx.Provide(
		func(s *ledger.Service) Recorder { return s },
		func(s *webhook_log.Service) EventSaver { return s },
	),
	fx.Provide(NewAppleTransactionManager),
	fx.Provide(NewService),
)
