package rabbitmq

import (
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DeliveryCountHeader is set by quorum queues and grows on every redelivery.
const DeliveryCountHeader = "x-delivery-count"

// Properties are the AMQP basic properties of a message together with the
// exchange and routing key it was published with.
type Properties struct {
	Headers         map[string]any
	ContentType     string
	ContentEncoding string
	DeliveryMode    uint8
	Priority        uint8
	CorrelationID   string
	ReplyTo         string
	Expiration      string
	MessageID       string
	Timestamp       time.Time
	Type            string
	UserID          string
	AppID           string
	Exchange        string
	RoutingKey      string
}

// Message is a single basic.get result. DeliveryTag only makes sense on the
// channel that fetched the message.
type Message struct {
	Body []byte
	Properties

	DeliveryTag uint64
}

func fromDelivery(d amqp.Delivery) Message {
	headers := make(map[string]any, len(d.Headers))
	for k, v := range d.Headers {
		headers[k] = v
	}

	return Message{
		Body: d.Body,
		Properties: Properties{
			Headers:         headers,
			ContentType:     d.ContentType,
			ContentEncoding: d.ContentEncoding,
			DeliveryMode:    d.DeliveryMode,
			Priority:        d.Priority,
			CorrelationID:   d.CorrelationId,
			ReplyTo:         d.ReplyTo,
			Expiration:      d.Expiration,
			MessageID:       d.MessageId,
			Timestamp:       d.Timestamp,
			Type:            d.Type,
			UserID:          d.UserId,
			AppID:           d.AppId,
			Exchange:        d.Exchange,
			RoutingKey:      d.RoutingKey,
		},
		DeliveryTag: d.DeliveryTag,
	}
}

func toPublishing(m Message) amqp.Publishing {
	var headers amqp.Table
	if len(m.Headers) > 0 {
		headers = make(amqp.Table, len(m.Headers))
		for k, v := range m.Headers {
			headers[k] = v
		}
	}

	return amqp.Publishing{
		Headers:         headers,
		ContentType:     m.ContentType,
		ContentEncoding: m.ContentEncoding,
		DeliveryMode:    m.DeliveryMode,
		Priority:        m.Priority,
		CorrelationId:   m.CorrelationID,
		ReplyTo:         m.ReplyTo,
		Expiration:      m.Expiration,
		MessageId:       m.MessageID,
		Timestamp:       m.Timestamp,
		Type:            m.Type,
		UserId:          m.UserID,
		AppId:           m.AppID,
		Body:            m.Body,
	}
}
