// Package amqp republishes fan-out notifications to a RabbitMQ topic
// exchange, one message per notification.
package amqp

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/streadway/amqp"

	"github.com/dkeye/videoroom/internal/app/fanout"
	"github.com/dkeye/videoroom/internal/domain"
)

const routingPrefix = "videoroom."

// Publisher is the part of *amqp.Channel the bridge uses.
type Publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type Bridge struct {
	pub      Publisher
	exchange string
	room     domain.RoomID
}

func NewBridge(pub Publisher, exchange string, room domain.RoomID) *Bridge {
	return &Bridge{pub: pub, exchange: exchange, room: room}
}

// Dial opens a channel on url and declares the topic exchange. The returned
// close func releases both.
func Dial(url, exchange string) (*amqp.Channel, func(), error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	closeFn := func() {
		_ = ch.Close()
		_ = conn.Close()
	}
	log.Info().Str("module", "amqp").Str("exchange", exchange).Msg("bridge connected")
	return ch, closeFn, nil
}

// Run publishes every notification of sub until ctx is done or the
// subscription is dropped. Publish failures are logged and skipped.
func (b *Bridge) Run(ctx context.Context, sub *fanout.Subscription) {
	fanout.Drain(ctx, sub, func(n fanout.Notification) {
		if err := b.Publish(n); err != nil {
			log.Error().Err(err).Str("module", "amqp").Str("channel", n.Channel).Msg("publish failed")
		}
	})
}

func (b *Bridge) Publish(n fanout.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return b.pub.Publish(b.exchange, routingPrefix+n.Channel, false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   uuid.NewString(),
		Timestamp:   n.At,
		Headers:     amqp.Table{"room": b.room.String()},
		Body:        body,
	})
}
