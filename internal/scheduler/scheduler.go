// Package scheduler запускает периодические фоновые задачи по cron-расписанию.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job описывает периодическую задачу. Контекст отменяется при остановке планировщика.
type Job func(ctx context.Context)

// Scheduler оборачивает cron и привязывает задачи к жизненному циклу сервиса.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// New создаёт планировщик. Запуск задачи пропускается, пока не завершился предыдущий.
func New(logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLogger{logger.Sugar()}),
			cron.SkipIfStillRunning(cronLogger{logger.Sugar()}),
		)),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// AddJob регистрирует задачу с расписанием в формате cron или "@every <duration>".
func (s *Scheduler) AddJob(spec, name string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		start := time.Now()
		s.logger.Debug("scheduled job started", zap.String("job", name))
		job(s.ctx)
		s.logger.Debug("scheduled job finished",
			zap.String("job", name),
			zap.Duration("duration", time.Since(start)),
		)
	})
	if err != nil {
		return fmt.Errorf("add job %s: %w", name, err)
	}
	s.logger.Info("scheduled job registered", zap.String("job", name), zap.String("schedule", spec))
	return nil
}

// Run запускает планировщик и блокируется до отмены ctx, после чего ждёт завершения выполняющихся задач.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.cron.Entries())))

	<-ctx.Done()

	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")

	return nil
}

// cronLogger пишет сообщения cron (паника в задаче, пропуск запуска) в zap.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.sugar.Infow("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.sugar.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
