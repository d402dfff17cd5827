package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gammazero/workerpool"

	"github.com/doananhminh-dev/Class-calm/internal/alert"
	"github.com/doananhminh-dev/Class-calm/internal/config"
	"github.com/doananhminh-dev/Class-calm/internal/types"
	"github.com/doananhminh-dev/Class-calm/internal/util"
)

const (
	// maxWorkers bounds concurrent deliveries across all channels.
	maxWorkers = 4
	// deliveryTimeout bounds one channel delivery including retries.
	deliveryTimeout = 2 * time.Minute
)

// Notifier delivers alerts to every configured channel. Deliveries run on a
// bounded worker pool so Trigger never blocks the meter loop.
type Notifier struct {
	cfg  *config.Config
	pool *workerpool.WorkerPool

	ctx    context.Context
	cancel context.CancelFunc

	// mu protects graphClient and graphKey
	mu          sync.Mutex
	graphClient *GraphClient
	graphKey    types.GraphConfig
}

// NewNotifier returns a Notifier reading channel settings from cfg at each alert.
func NewNotifier(cfg *config.Config) *Notifier {
	ctx, cancel := context.WithCancel(context.Background())
	return &Notifier{
		cfg:    cfg,
		pool:   workerpool.New(maxWorkers),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Trigger implements alert.Actuator. It queues one delivery per configured channel.
func (n *Notifier) Trigger(_ context.Context, a alert.Alert) error {
	if n.pool.Stopped() {
		return nil
	}
	cfg := n.cfg.Snapshot()

	if cfg.HasWebhook() {
		n.submit("webhook", a.Session, func(ctx context.Context) error {
			return SendAlertWebhook(ctx, cfg.WebhookURL, cfg.RoomName, a)
		})
	}
	if cfg.HasLogPath() {
		n.submit("log", a.Session, func(context.Context) error {
			return LogAlert(cfg.LogPath, cfg.RoomName, a)
		})
	}
	if cfg.HasGraph() {
		graph := cfg.Graph
		n.submit("email", a.Session, func(ctx context.Context) error {
			client, err := n.graph(&graph)
			if err != nil {
				return util.WrapError("create Graph client", err)
			}
			return sendAlertEmail(ctx, client, graph.Recipients, cfg.RoomName, a)
		})
	}
	if cfg.HasZabbix() {
		zbx := cfg.Zabbix
		n.submit("zabbix", a.Session, func(ctx context.Context) error {
			return SendAlertZabbix(ctx, &zbx, a)
		})
	}
	return nil
}

// submit queues one delivery and logs its outcome.
func (n *Notifier) submit(channel, session string, send func(ctx context.Context) error) {
	n.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(n.ctx, deliveryTimeout)
		defer cancel()
		util.LogNotifyResult(func() error { return send(ctx) }, channel, session)
	})
}

// graph returns the cached Graph client, rebuilding it when the settings changed.
func (n *Notifier) graph(cfg *types.GraphConfig) (*GraphClient, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.graphClient != nil && n.graphKey == *cfg {
		return n.graphClient, nil
	}

	client, err := NewGraphClient(cfg)
	if err != nil {
		return nil, err
	}
	n.graphClient = client
	n.graphKey = *cfg
	return client, nil
}

// InvalidateGraphClient clears the cached Graph client.
func (n *Notifier) InvalidateGraphClient() {
	n.mu.Lock()
	n.graphClient = nil
	n.mu.Unlock()
}

// Pending returns the number of queued deliveries.
func (n *Notifier) Pending() int {
	return n.pool.WaitingQueueSize()
}

// Close waits for queued deliveries to finish, aborting any still running after timeout.
func (n *Notifier) Close(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		n.pool.StopWait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		slog.Warn("notification deliveries still running at shutdown, cancelling")
		n.cancel()
		<-done
	}
	n.cancel()
}
