// Package rabbitmq publishes tracking snapshots to a fanout exchange so other
// services (notifications, analytics) can follow live tasks without polling
// the state store.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"campusrun/internal/config"
	"campusrun/internal/domain/entities"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	queueSize      = 256
	publishTimeout = 5 * time.Second
	messageType    = "tracking.snapshot"
)

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher is a repository.SnapshotSink. Publish only enqueues; a single
// goroutine drains the queue in order so a slow broker never stalls a
// tracking session. When the queue is full the snapshot is dropped, since a
// newer one for the same task follows shortly.
//
// Go Learning Note — Buffered Channels as Work Queues:
// The queue is a buffered channel read by one goroutine. A select with a
// default case turns the send into a non-blocking try.
type Publisher struct {
	conn     *amqp.Connection
	ch       amqpChannel
	exchange string
	log      *slog.Logger

	queue     chan entities.TrackingSnapshot
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	dropped   atomic.Uint64
}

// Dial connects to cfg.URL, declares the fanout exchange and starts the
// publishing goroutine.
func Dial(cfg config.RabbitMQConfig, log *slog.Logger) (*Publisher, error) {
	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(30 * time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq declare exchange %q: %w", cfg.Exchange, err)
	}

	p := newPublisher(ch, cfg.Exchange, log, queueSize)
	p.conn = conn
	log.Info("rabbitmq publisher ready", "action", "broker_connect", "exchange", cfg.Exchange)
	return p, nil
}

func newPublisher(ch amqpChannel, exchange string, log *slog.Logger, buffer int) *Publisher {
	p := &Publisher{
		ch:       ch,
		exchange: exchange,
		log:      log,
		queue:    make(chan entities.TrackingSnapshot, buffer),
		done:     make(chan struct{}),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// Publish enqueues snapshot. A position snapshot never blocks and is dropped
// when the queue is full. A cleared snapshot has no successor to stand in for
// it, so Publish waits up to publishTimeout for queue space.
func (p *Publisher) Publish(snapshot entities.TrackingSnapshot) {
	select {
	case <-p.done:
		return
	default:
	}

	select {
	case p.queue <- snapshot:
		return
	default:
	}

	if snapshot.State == entities.TrackingStopped {
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case p.queue <- snapshot:
			return
		case <-p.done:
			return
		case <-timer.C:
		}
	}

	p.dropped.Add(1)
	p.log.Warn("snapshot queue full, dropping", "action", "broker_publish",
		"task_id", snapshot.TaskID, "version", snapshot.Version, "state", string(snapshot.State))
}

// Dropped reports how many snapshots were discarded on a full queue.
func (p *Publisher) Dropped() uint64 { return p.dropped.Load() }

// Close publishes what is still queued, then closes the connection.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
		if p.conn != nil {
			p.conn.Close()
		}
	})
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for {
		select {
		case snapshot := <-p.queue:
			p.send(snapshot)
		case <-p.done:
			for {
				select {
				case snapshot := <-p.queue:
					p.send(snapshot)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) send(snapshot entities.TrackingSnapshot) {
	msg, err := encode(snapshot)
	if err != nil {
		p.log.Error("encode snapshot failed", "action", "broker_publish",
			"task_id", snapshot.TaskID, "error", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.ch.PublishWithContext(ctx, p.exchange, snapshot.TaskID, false, false, msg); err != nil {
		p.log.Error("publish snapshot failed", "action", "broker_publish",
			"task_id", snapshot.TaskID, "version", snapshot.Version, "error", err.Error())
	}
}

func encode(snapshot entities.TrackingSnapshot) (amqp.Publishing, error) {
	body, err := json.Marshal(snapshot)
	if err != nil {
		return amqp.Publishing{}, err
	}
	ts := snapshot.UpdatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return amqp.Publishing{
		ContentType: "application/json",
		MessageId:   messageID(snapshot),
		Type:        messageType,
		Timestamp:   ts.UTC(),
		Headers: amqp.Table{
			"task_id": snapshot.TaskID,
			"version": int64(snapshot.Version),
			"state":   string(snapshot.State),
		},
		Body: body,
	}, nil
}

// messageID is unique per message for consumers that de-duplicate. Clears
// all carry version 0, so each gets a random suffix instead.
func messageID(snapshot entities.TrackingSnapshot) string {
	if snapshot.State == entities.TrackingStopped {
		return fmt.Sprintf("%s:cleared:%s", snapshot.TaskID, uuid.NewString())
	}
	return fmt.Sprintf("%s:%d", snapshot.TaskID, snapshot.Version)
}
