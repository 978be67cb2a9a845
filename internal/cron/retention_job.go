package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
)

const (
	defaultOutboxRetention       = 30 * 24 * time.Hour
	defaultNotificationRetention = 90 * 24 * time.Hour
)

// RetentionJobParams configure the housekeeping job that prunes published outbox rows and old notifications.
type RetentionJobParams struct {
	Logger                *logger.Logger
	DB                    txRunner
	Outbox                outboxPurger
	Notifications         notificationPurger
	OutboxRetention       time.Duration
	NotificationRetention time.Duration
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPurger interface {
	DeletePublishedBefore(tx *gorm.DB, cutoff time.Time) (int64, error)
}

type notificationPurger interface {
	PurgeBefore(tx *gorm.DB, cutoff time.Time) (int64, error)
}

func NewRetentionJob(params RetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	outboxRetention := params.OutboxRetention
	if outboxRetention <= 0 {
		outboxRetention = defaultOutboxRetention
	}
	notificationRetention := params.NotificationRetention
	if notificationRetention <= 0 {
		notificationRetention = defaultNotificationRetention
	}
	return &retentionJob{
		logg:                  params.Logger,
		db:                    params.DB,
		outbox:                params.Outbox,
		notifications:         params.Notifications,
		outboxRetention:       outboxRetention,
		notificationRetention: notificationRetention,
		now:                   time.Now,
	}, nil
}

type retentionJob struct {
	logg                  *logger.Logger
	db                    txRunner
	outbox                outboxPurger
	notifications         notificationPurger
	outboxRetention       time.Duration
	notificationRetention time.Duration
	now                   func() time.Time
}

func (j *retentionJob) Name() string { return "retention" }

func (j *retentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	var errs error

	outboxCutoff := now.Add(-j.outboxRetention)
	deleted, err := j.purge(ctx, func(tx *gorm.DB) (int64, error) {
		return j.outbox.DeletePublishedBefore(tx, outboxCutoff)
	})
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("outbox retention: %w", err))
	} else {
		j.logPurge(ctx, "outbox_events", outboxCutoff, deleted)
	}

	if j.notifications != nil {
		notificationCutoff := now.Add(-j.notificationRetention)
		deleted, err := j.purge(ctx, func(tx *gorm.DB) (int64, error) {
			return j.notifications.PurgeBefore(tx, notificationCutoff)
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("notification retention: %w", err))
		} else {
			j.logPurge(ctx, "notifications", notificationCutoff, deleted)
		}
	}
	return errs
}

func (j *retentionJob) purge(ctx context.Context, fn func(tx *gorm.DB) (int64, error)) (int64, error) {
	var deleted int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := fn(tx)
		if err != nil {
			return err
		}
		deleted = rows
		return nil
	})
	return deleted, err
}

func (j *retentionJob) logPurge(ctx context.Context, table string, cutoff time.Time, deleted int64) {
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"table":        table,
		"cutoff":       cutoff,
		"rows_deleted": deleted,
	})
	j.logg.Info(logCtx, "retention cleanup complete")
}
