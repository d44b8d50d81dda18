package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/griddfs/griddfs/pkg/common"
)

// Exchange and queue names.
const (
	exchangeBlockFanout = "griddfs.blocks.fanout"
	exchangeDirect      = "griddfs.direct"

	queueStorageConfirm = "storage.confirm"
	queueHeartbeat      = "datanode.heartbeat"

	routingConfirm   = "storage.confirm"
	routingHeartbeat = "heartbeat"
)

const fetchTimeout = 30 * time.Second

// AMQPBus is a Bus backed by a RabbitMQ broker. Block broadcasts go through a
// fanout exchange so every node receives every block; confirmations,
// heartbeats and fetch requests go through a direct exchange.
type AMQPBus struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	logger zerolog.Logger
}

// DialAMQP connects to the broker and declares the exchanges.
func DialAMQP(url string, logger zerolog.Logger) (*AMQPBus, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchangeBlockFanout, "fanout", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare fanout exchange: %w", err)
	}
	if err := ch.ExchangeDeclare(exchangeDirect, "direct", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare direct exchange: %w", err)
	}

	return &AMQPBus{conn: conn, ch: ch, logger: logger.With().Str("component", "bus").Logger()}, nil
}

func (b *AMQPBus) Close() error {
	return b.conn.Close()
}

func fanoutQueue(nodeID common.NodeID) string {
	return "fanout.blocks." + string(nodeID)
}

func requestQueue(nodeID common.NodeID) string {
	return "block.request." + string(nodeID)
}

func (b *AMQPBus) publish(ctx context.Context, exchange, key string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.ch.PublishWithContext(ctx, exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

func (b *AMQPBus) BroadcastBlock(ctx context.Context, desc *common.BlockDescriptor) error {
	return b.publish(ctx, exchangeBlockFanout, "", desc)
}

func (b *AMQPBus) Confirmations(ctx context.Context) (<-chan common.Confirmation, error) {
	deliveries, err := b.consumeDirect(queueStorageConfirm, routingConfirm)
	if err != nil {
		return nil, err
	}

	out := make(chan common.Confirmation, 64)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				var c common.Confirmation
				if err := json.Unmarshal(d.Body, &c); err != nil {
					b.logger.Error().Err(err).Msg("bad confirmation payload")
					d.Nack(false, false)
					continue
				}
				d.Ack(false)
				out <- c
			}
		}
	}()
	return out, nil
}

func (b *AMQPBus) Heartbeats(ctx context.Context) (<-chan common.Heartbeat, error) {
	deliveries, err := b.consumeDirect(queueHeartbeat, routingHeartbeat)
	if err != nil {
		return nil, err
	}

	out := make(chan common.Heartbeat, 64)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				var hb common.Heartbeat
				if err := json.Unmarshal(d.Body, &hb); err != nil {
					b.logger.Error().Err(err).Msg("bad heartbeat payload")
					d.Nack(false, false)
					continue
				}
				d.Ack(false)
				out <- hb
			}
		}
	}()
	return out, nil
}

type fetchRequest struct {
	BlockID common.BlockID `json:"block_id"`
	ReplyTo string         `json:"reply_to"`
}

type fetchResponse struct {
	BlockID common.BlockID `json:"block_id"`
	Data    []byte         `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

func (b *AMQPBus) FetchBlock(ctx context.Context, nodeID common.NodeID, blockID common.BlockID) ([]byte, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, err
	}
	defer ch.Close()

	// Exclusive auto-delete reply queue, one per fetch.
	replyQ, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, fmt.Errorf("declare reply queue: %w", err)
	}
	deliveries, err := ch.Consume(replyQ.Name, "", true, true, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume reply queue: %w", err)
	}

	req := fetchRequest{BlockID: blockID, ReplyTo: replyQ.Name}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if err := ch.PublishWithContext(ctx, exchangeDirect, "block.request."+string(nodeID), false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	}); err != nil {
		return nil, fmt.Errorf("publish fetch request: %w", err)
	}

	timer := time.NewTimer(fetchTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("fetch from node %s timed out", nodeID)
	case d, ok := <-deliveries:
		if !ok {
			return nil, fmt.Errorf("reply channel closed")
		}
		var resp fetchResponse
		if err := json.Unmarshal(d.Body, &resp); err != nil {
			return nil, err
		}
		if resp.Error != "" {
			return nil, fmt.Errorf("node %s: %s", nodeID, resp.Error)
		}
		return resp.Data, nil
	}
}

func (b *AMQPBus) SubscribeBlocks(ctx context.Context, nodeID common.NodeID) (<-chan common.BlockDescriptor, error) {
	q := fanoutQueue(nodeID)
	if _, err := b.ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare fanout queue: %w", err)
	}
	if err := b.ch.QueueBind(q, "", exchangeBlockFanout, false, nil); err != nil {
		return nil, fmt.Errorf("bind fanout queue: %w", err)
	}
	deliveries, err := b.ch.Consume(q, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume fanout queue: %w", err)
	}

	out := make(chan common.BlockDescriptor, 16)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				var desc common.BlockDescriptor
				if err := json.Unmarshal(d.Body, &desc); err != nil {
					b.logger.Error().Err(err).Msg("bad block descriptor payload")
					d.Nack(false, false)
					continue
				}
				d.Ack(false)
				out <- desc
			}
		}
	}()
	return out, nil
}

func (b *AMQPBus) Confirm(ctx context.Context, c common.Confirmation) error {
	return b.publish(ctx, exchangeDirect, routingConfirm, c)
}

func (b *AMQPBus) SendHeartbeat(ctx context.Context, hb common.Heartbeat) error {
	return b.publish(ctx, exchangeDirect, routingHeartbeat, hb)
}

func (b *AMQPBus) ServeFetch(ctx context.Context, nodeID common.NodeID, handler FetchHandler) error {
	q := requestQueue(nodeID)
	if _, err := b.ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare request queue: %w", err)
	}
	if err := b.ch.QueueBind(q, "block.request."+string(nodeID), exchangeDirect, false, nil); err != nil {
		return fmt.Errorf("bind request queue: %w", err)
	}
	deliveries, err := b.ch.Consume(q, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume request queue: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("request channel closed")
			}
			var req fetchRequest
			if err := json.Unmarshal(d.Body, &req); err != nil {
				b.logger.Error().Err(err).Msg("bad fetch request payload")
				d.Nack(false, false)
				continue
			}

			resp := fetchResponse{BlockID: req.BlockID}
			data, err := handler(req.BlockID)
			if err != nil {
				resp.Error = err.Error()
			} else {
				resp.Data = data
			}
			body, _ := json.Marshal(resp)
			if err := b.ch.PublishWithContext(ctx, "", req.ReplyTo, false, false, amqp.Publishing{
				ContentType: "application/json",
				Body:        body,
			}); err != nil {
				b.logger.Error().Err(err).Str("block", string(req.BlockID)).Msg("publish fetch response failed")
			}
			d.Ack(false)
		}
	}
}

func (b *AMQPBus) consumeDirect(queue, routingKey string) (<-chan amqp.Delivery, error) {
	if _, err := b.ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := b.ch.QueueBind(queue, routingKey, exchangeDirect, false, nil); err != nil {
		return nil, fmt.Errorf("bind queue %s: %w", queue, err)
	}
	deliveries, err := b.ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume queue %s: %w", queue, err)
	}
	return deliveries, nil
}
