package common

import (
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RateLimitedLogger drops log lines once more than one per period has been
// written. Dropped lines are counted and the count is attached to the next
// line that gets through.
type RateLimitedLogger struct {
	logger     *logrus.Entry
	limiter    *rate.Limiter
	suppressed uint64
}

// NewRateLimitedLogger ...
func NewRateLimitedLogger(logger *logrus.Entry, period time.Duration) *RateLimitedLogger {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}
	return &RateLimitedLogger{
		logger:  logger,
		limiter: rate.NewLimiter(rate.Every(period), 1),
	}
}

// Suppressed returns the number of lines dropped so far.
func (l *RateLimitedLogger) Suppressed() uint64 {
	return atomic.LoadUint64(&l.suppressed)
}

func (l *RateLimitedLogger) entry(fields logrus.Fields) (*logrus.Entry, bool) {
	if !l.limiter.Allow() {
		atomic.AddUint64(&l.suppressed, 1)
		return nil, false
	}
	e := l.logger.WithFields(fields)
	if n := atomic.SwapUint64(&l.suppressed, 0); n > 0 {
		e = e.WithField("suppressed", n)
	}
	return e, true
}

// Error logs at error level unless the rate limit has been reached.
func (l *RateLimitedLogger) Error(fields logrus.Fields, msg string) {
	if e, ok := l.entry(fields); ok {
		e.Error(msg)
	}
}

// Warn logs at warning level unless the rate limit has been reached.
func (l *RateLimitedLogger) Warn(fields logrus.Fields, msg string) {
	if e, ok := l.entry(fields); ok {
		e.Warn(msg)
	}
}
