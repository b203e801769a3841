package payroll

import (
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/warp/settlement-engine/lock"
	"github.com/warp/settlement-engine/monitoring"
)

// =============================================================================
// ENGINE - Wires the components over one repository and one locker
// =============================================================================

type Options struct {
	// Locker serializes writes per worker. Defaults to an in-process locker.
	Locker lock.Locker
	Retry  RetryConfig
	// Concurrency bounds the workers calculated in parallel.
	Concurrency int
	Logger      logrus.FieldLogger
	Metrics     *monitoring.Metrics
	Clock       func() time.Time
	NewID       func() string
}

type Engine struct {
	Accounts   *Accounts
	Ledger     *Ledger
	Calculator *Calculator
	Committer  *Committer
}

func NewEngine(repo Repository, attendance AttendanceSource, opts Options) *Engine {
	if opts.Locker == nil {
		opts.Locker = lock.NewLocal()
	}
	if opts.Retry == (RetryConfig{}) {
		opts.Retry = DefaultRetryConfig()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	retry := newConflictRetrier(opts.Retry, opts.Metrics)
	accounts := newAccounts(repo, opts.Locker, opts.Clock, opts.Logger)

	return &Engine{
		Accounts: accounts,
		Ledger: &Ledger{
			repo:     repo,
			accounts: accounts,
			retry:    retry,
			clock:    opts.Clock,
			newID:    opts.NewID,
			logger:   opts.Logger,
			metrics:  opts.Metrics,
		},
		Calculator: &Calculator{
			repo:        repo,
			attendance:  attendance,
			concurrency: opts.Concurrency,
			logger:      opts.Logger,
			metrics:     opts.Metrics,
		},
		Committer: &Committer{
			repo:     repo,
			accounts: accounts,
			retry:    retry,
			clock:    opts.Clock,
			newID:    opts.NewID,
			logger:   opts.Logger,
			metrics:  opts.Metrics,
		},
	}
}
