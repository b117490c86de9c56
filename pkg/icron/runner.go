package icron

import (
	"context"

	"github.com/MimeLyc/storyclip/pkg/log"
	"github.com/robfig/cron/v3"
)

// Runner runs named tasks on cron schedules. A task still running when its
// next trigger fires is skipped for that trigger.
type Runner struct {
	c *cron.Cron
}

func NewRunner() *Runner {
	return &Runner{
		c: cron.New(
			cron.WithParser(parser),
			cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
		),
	}
}

func (r *Runner) Add(name string, cronExpr string, task func()) error {
	if _, err := Parse(cronExpr); err != nil {
		return err
	}
	_, err := r.c.AddFunc(cronExpr, func() {
		log.Debug("Cron task %s triggered", name)
		task()
	})
	if err != nil {
		return err
	}
	log.Info("Scheduled %s with %q", name, cronExpr)
	return nil
}

func (r *Runner) Start() {
	r.c.Start()
}

// Stop prevents new runs and returns a context done when running tasks finish.
func (r *Runner) Stop() context.Context {
	return r.c.Stop()
}
