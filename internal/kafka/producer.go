package kafka

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// События тикетов и реферального конкурса.
const (
	EventTicketOpened      = "ticket.opened"
	EventTicketClaimed     = "ticket.claimed"
	EventTicketReplied     = "ticket.replied"
	EventTicketRated       = "ticket.rated"
	EventReferralRecorded  = "referral.recorded"
	EventReferralMilestone = "referral.milestone"
)

// EventProducer — интерфейс для отправки событий в Kafka (для подмены моком в тестах).
type EventProducer interface {
	Produce(ctx context.Context, event string, payload map[string]interface{})
}

// Producer пишет события в топик Kafka (best-effort, не блокирует обработку).
type Producer struct {
	writer *kafka.Writer
	topic  string
}

// NewProducer создаёт продюсер. Если brokers или topic пустые — методы no-op.
func NewProducer(brokers []string, topic string) *Producer {
	if len(brokers) == 0 || topic == "" {
		return &Producer{}
	}
	return &Producer{
		topic: topic,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// Produce отправляет событие. payload: ticket_id, user_id, admin_id, topic, rating и т.п.
func (p *Producer) Produce(ctx context.Context, event string, payload map[string]interface{}) {
	if p.writer == nil {
		return
	}
	msg := map[string]interface{}{"event": event}
	for k, v := range payload {
		msg[k] = v
	}
	body, err := json.Marshal(msg)
	if err != nil {
		log.Printf("kafka: marshal %s: %v", event, err)
		return
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Value: body}); err != nil {
		log.Printf("kafka: write %s: %v", event, err)
	}
}

// Close закрывает writer.
func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
