package app

import (
	"time"

	"go.uber.org/fx"

	"github.com/fatflowers/subtrack/internal/app/api/server"
	"github.com/fatflowers/subtrack/internal/app/service/category"
	"github.com/fatflowers/subtrack/internal/app/service/entitlement"
	"github.com/fatflowers/subtrack/internal/app/service/entitlement/card"
	"github.com/fatflowers/subtrack/internal/app/service/entitlement/store"
	"github.com/fatflowers/subtrack/internal/app/service/ledger"
	notificationhandler "github.com/fatflowers/subtrack/internal/app/service/notification_handler"
	"github.com/fatflowers/subtrack/internal/app/service/reminder"
	"github.com/fatflowers/subtrack/internal/app/service/statistics"
	"github.com/fatflowers/subtrack/internal/app/service/subscription"
	"github.com/fatflowers/subtrack/internal/app/service/transaction"
	"github.com/fatflowers/subtrack/internal/app/service/user"
	"github.com/fatflowers/subtrack/internal/app/service/webhook_log"
	"github.com/fatflowers/subtrack/internal/platform/cache"
	"github.com/fatflowers/subtrack/internal/platform/db"
	"github.com/fatflowers/subtrack/internal/platform/mq"
	"github.com/fatflowers/subtrack/pkg/config"
	"github.com/fatflowers/subtrack/pkg/logger"
)

const (
	DefaultStartTimeout = 15 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

var Module = fx.Options(
	logger.Module,
	config.Module,
	db.Module,
	cache.Module,
	mq.Module,
	server.Module,
	user.Module,
	category.Module,
	subscription.Module,
	ledger.Module,
	webhook_log.Module,
	transaction.Module,
	entitlement.Module,
	store.Module,
	card.Module,
	notificationhandler.Module,
	statistics.Module,
	reminder.Module,
)
