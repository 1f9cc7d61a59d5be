// Package events publishes domain events to RabbitMQ after server writes
// commit. Publishing is fire-and-forget from the API's point of view: the
// HTTP response never waits on broker acknowledgement semantics beyond the
// publish call itself.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"expenser/internal/core"
)

type Publisher struct {
	conn         *amqp091.Connection
	channel      *amqp091.Channel
	exchangeName string
	queueName    string
	logger       *slog.Logger
}

func NewPublisher(url, exchangeName, queueName string, logger *slog.Logger) (*Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	p := &Publisher{
		conn:         conn,
		channel:      channel,
		exchangeName: exchangeName,
		queueName:    queueName,
		logger:       logger,
	}

	if err := p.setup(); err != nil {
		p.Close()
		return nil, fmt.Errorf("setup exchange and queue: %w", err)
	}

	return p, nil
}

func (p *Publisher) setup() error {
	err := p.channel.ExchangeDeclare(
		p.exchangeName, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err = p.channel.QueueDeclare(
		p.queueName, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	err = p.channel.QueueBind(
		p.queueName,    // queue name
		p.queueName,    // routing key (same as queue name for direct exchange)
		p.exchangeName, // exchange
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	return nil
}

func (p *Publisher) publish(ctx context.Context, msg *Message) error {
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = p.channel.PublishWithContext(
		ctx,
		p.exchangeName, // exchange
		p.queueName,    // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	p.logger.InfoContext(ctx, "published event",
		"kind", msg.Kind,
		"entity_id", msg.EntityID,
		"exchange", p.exchangeName,
		"queue", p.queueName)

	return nil
}

func (p *Publisher) TransactionCreated(ctx context.Context, txn core.Transaction) error {
	return p.publish(ctx, &Message{
		Kind:          KindTransactionCreated,
		UserID:        txn.UserID,
		EntityID:      txn.ID,
		Timestamp:     time.Now(),
		Amount:        &txn.Amount,
		Type:          txn.Type,
		PaymentMethod: txn.PaymentMethod,
	})
}

func (p *Publisher) TransactionDeleted(ctx context.Context, userID, id string) error {
	return p.publish(ctx, &Message{
		Kind:      KindTransactionDeleted,
		UserID:    userID,
		EntityID:  id,
		Timestamp: time.Now(),
	})
}

func (p *Publisher) WorkflowCreated(ctx context.Context, wf core.Workflow) error {
	return p.publish(ctx, &Message{
		Kind:      KindWorkflowCreated,
		UserID:    wf.UserID,
		EntityID:  wf.ID,
		Timestamp: time.Now(),
	})
}

func (p *Publisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
