// Package ingestion pulls inbound WhatsApp events off JetStream and feeds
// them to the processor through a bounded worker pool. Ack policy: ack on
// any processed result (including duplicates and validation rejects),
// delayed NAK on retryable storage faults, terminate poison messages.
package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-cs-bot-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-cs-bot-engine/internal/config"
	"gitlab.com/timkado/api/daisi-cs-bot-engine/internal/jetstream"
	"gitlab.com/timkado/api/daisi-cs-bot-engine/internal/model"
	"gitlab.com/timkado/api/daisi-cs-bot-engine/internal/observer"
	"gitlab.com/timkado/api/daisi-cs-bot-engine/internal/reqctx"
	"gitlab.com/timkado/api/daisi-cs-bot-engine/internal/usecase"
	"gitlab.com/timkado/api/daisi-cs-bot-engine/pkg/logger"
)

// EventHandler is the processor entry point the consumer drives
type EventHandler interface {
	Handle(ctx context.Context, payload *model.InboundEventPayload) (usecase.Result, error)
}

// InboundConsumer subscribes to the inbound event subject and dispatches
// each message to the worker pool.
type InboundConsumer struct {
	client  jetstream.ClientInterface
	handler EventHandler
	cfg     config.ConsumerNatsConfig
	pool    *ants.PoolWithFunc
	sub     *nats.Subscription
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewInboundConsumer creates the consumer and its worker pool
func NewInboundConsumer(client jetstream.ClientInterface, handler EventHandler, cfg config.ConsumerNatsConfig, poolCfg config.InboundWorkerPoolConfig) (*InboundConsumer, error) {
	ctx, cancel := context.WithCancel(context.Background())

	c := &InboundConsumer{
		client:  client,
		handler: handler,
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
	}

	pool, err := ants.NewPoolWithFunc(poolCfg.PoolSize, func(i interface{}) {
		msg, ok := i.(*nats.Msg)
		if !ok {
			logger.Log.Error("Invalid task type in inbound pool", zap.Any("data", i))
			return
		}
		c.processMessage(msg)
	},
		ants.WithExpiryDuration(poolCfg.ExpiryTime),
		ants.WithNonblocking(false),
		ants.WithMaxBlockingTasks(poolCfg.QueueSize),
		ants.WithPanicHandler(func(r interface{}) {
			logger.Log.Error("Panic recovered in inbound worker", zap.Any("panic", r), zap.Stack("stack"))
		}),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create inbound worker pool: %w", err)
	}
	c.pool = pool
	return c, nil
}

// Setup ensures the stream and the durable consumer exist
func (c *InboundConsumer) Setup() error {
	log := logger.FromContext(c.ctx)
	log.Info("Setting up inbound consumer",
		zap.String("stream", c.cfg.Stream), zap.String("consumer", c.cfg.Consumer))

	streamCfg := &nats.StreamConfig{
		Name:      c.cfg.Stream,
		Subjects:  []string{c.cfg.Subject},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    time.Duration(c.cfg.MaxAge*24) * time.Hour,
	}
	if err := c.client.SetupStream(c.ctx, streamCfg); err != nil {
		return fmt.Errorf("failed to setup inbound stream '%s': %w", c.cfg.Stream, err)
	}

	consumerCfg := &nats.ConsumerConfig{
		Durable:        c.cfg.Consumer,
		DeliverGroup:   c.cfg.QueueGroup,
		FilterSubject:  c.cfg.Subject,
		AckPolicy:      nats.AckExplicitPolicy,
		DeliverSubject: nats.NewInbox(),
		MaxDeliver:     c.cfg.MaxDeliver,
		AckWait:        30 * time.Second,
		MaxAckPending:  1000,
		ReplayPolicy:   nats.ReplayInstantPolicy,
		// Gateways redeliver and the processor dedups, so delivering from
		// the start of the stream is safe.
		DeliverPolicy: nats.DeliverAllPolicy,
	}
	if err := c.client.SetupConsumer(c.ctx, c.cfg.Stream, consumerCfg); err != nil {
		return fmt.Errorf("failed to setup inbound consumer '%s': %w", c.cfg.Consumer, err)
	}

	log.Info("Inbound consumer setup complete")
	return nil
}

// Start subscribes to the inbound subject
func (c *InboundConsumer) Start() error {
	log := logger.FromContext(c.ctx)

	sub, err := c.client.SubscribePush(c.cfg.Subject, c.cfg.Consumer, c.cfg.QueueGroup, c.cfg.Stream, c.dispatch)
	if err != nil {
		return fmt.Errorf("failed to subscribe inbound consumer '%s': %w", c.cfg.Consumer, err)
	}
	c.sub = sub
	log.Info("Inbound consumer subscribed",
		zap.String("subject", c.cfg.Subject), zap.String("group", c.cfg.QueueGroup))
	return nil
}

// dispatch hands the message to the pool; a full pool blocks the NATS
// callback, which throttles delivery via MaxAckPending.
func (c *InboundConsumer) dispatch(msg *nats.Msg) {
	if err := c.pool.Invoke(msg); err != nil {
		logger.Log.Error("Failed to submit inbound message to pool", zap.Error(err))
		if nakErr := msg.Nak(); nakErr != nil {
			logger.Log.Error("Failed to NAK message after pool submit failure", zap.Error(nakErr))
		}
	}
}

func (c *InboundConsumer) processMessage(msg *nats.Msg) {
	ctx := reqctx.WithRequestID(c.ctx, uuid.NewString())
	log := logger.FromContext(ctx).With(zap.String("subject", msg.Subject))
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Error("Recovered from panic in inbound handler",
				zap.Any("panic", r), zap.Stack("stack"))
			if nakErr := msg.Nak(); nakErr != nil {
				log.Error("Failed to NAK message after panic", zap.Error(nakErr))
			}
		}
	}()

	observer.IncEventsReceived()

	var payload model.InboundEventPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		// Poison message; redelivery cannot fix it
		log.Error("Terminating undecodable inbound event", zap.Error(err))
		observer.IncEventsFailed("unmarshal")
		if termErr := msg.Term(); termErr != nil {
			log.Error("Failed to terminate message", zap.Error(termErr))
		}
		return
	}
	log = log.With(zap.String("message_id", payload.MessageID))

	res, err := c.handler.Handle(ctx, &payload)
	if err == nil {
		log.Info("Processed inbound event",
			zap.String("handled", res.Handled), zap.Bool("ok", res.OK),
			zap.Bool("duplicate", res.Duplicate), zap.Duration("duration", time.Since(start)))
		if ackErr := msg.Ack(); ackErr != nil {
			log.Error("Failed to ACK message", zap.Error(ackErr))
		}
		return
	}

	observer.IncEventsFailed(observer.SanitizeErrorType(err.Error()))

	metadata, metaErr := msg.Metadata()
	if metaErr != nil {
		log.Error("Failed to read message metadata, NAKing", zap.Error(metaErr))
		if nakErr := msg.Nak(); nakErr != nil {
			log.Error("Failed to NAK message", zap.Error(nakErr))
		}
		return
	}

	if !apperrors.IsRetryable(err) || metadata.NumDelivered >= uint64(c.cfg.MaxDeliver) {
		log.Error("Terminating inbound event after storage fault",
			zap.Error(err), zap.Uint64("num_delivered", metadata.NumDelivered),
			zap.Int("max_deliver", c.cfg.MaxDeliver))
		if termErr := msg.Term(); termErr != nil {
			log.Error("Failed to terminate message", zap.Error(termErr))
		}
		return
	}

	delay := nakDelay(metadata.NumDelivered, c.cfg.NakBaseDelay, c.cfg.NakMaxDelay)
	log.Warn("NAKing inbound event for redelivery",
		zap.Error(err), zap.Uint64("num_delivered", metadata.NumDelivered),
		zap.Duration("nak_delay", delay))
	if nakErr := msg.NakWithDelay(delay); nakErr != nil {
		log.Error("Failed to NAK message with delay", zap.Error(nakErr))
	}
}

// nakDelay doubles the base delay per delivery attempt, capped at max
func nakDelay(numDelivered uint64, base, max time.Duration) time.Duration {
	delay := base
	if numDelivered > 1 {
		delay = base * (1 << (numDelivered - 1))
	}
	if delay > max || delay <= 0 {
		delay = max
	}
	return delay
}

// Stop drains the subscription and releases the worker pool
func (c *InboundConsumer) Stop() {
	log := logger.FromContext(c.ctx)
	log.Info("Stopping inbound consumer")

	if c.sub != nil {
		if err := c.sub.Drain(); err != nil {
			log.Error("Error draining inbound subscription", zap.Error(err))
		}
	}
	if c.pool != nil {
		c.pool.Release()
	}
	c.cancel()
	log.Info("Inbound consumer stopped")
}
