package jobqueue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// Listener turns Postgres NOTIFY messages sent by PostgresBroker.Enqueue into
// wakeups for idle workers. Polling stays in place as the fallback, so a lost
// notification only delays a job by one poll interval.
type Listener struct {
	listener  *pq.Listener
	channel   string
	logger    *slog.Logger
	wake      chan struct{}
	pingEvery time.Duration
}

func NewListener(databaseURL, channel string, logger *slog.Logger) (*Listener, error) {
	if channel == "" {
		channel = DefaultNotifyChannel
	}
	l := pq.NewListener(databaseURL, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Error("job listener event", "event", int(ev), "err", err)
		}
	})
	if err := l.Listen(channel); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("listen on %s: %w", channel, err)
	}
	logger.Info("listening for enqueue notifications", "channel", channel)

	return &Listener{
		listener:  l,
		channel:   channel,
		logger:    logger,
		wake:      make(chan struct{}, 1),
		pingEvery: 90 * time.Second,
	}, nil
}

func (l *Listener) Wakeups() <-chan struct{} {
	return l.wake
}

func (l *Listener) Run(ctx context.Context) {
	ping := time.NewTicker(l.pingEvery)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := l.listener.Close(); err != nil {
				l.logger.Error("job listener close failed", "err", err)
			}
			return
		case <-l.listener.Notify:
			// A nil notification means the connection was re-established;
			// jobs may have been enqueued meanwhile, so wake up anyway.
			l.signal()
		case <-ping.C:
			if err := l.listener.Ping(); err != nil {
				l.logger.Error("job listener ping failed", "err", err)
			}
		}
	}
}

func (l *Listener) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}
