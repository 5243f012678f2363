package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/streadway/amqp"
)

const nudgeQueue = "job_nudges"

// Nudge is the advisory wake-up channel between the trigger API and idle
// workers. The database stays the source of truth for jobs; a lost or
// duplicated nudge costs at most one poll interval of latency.
type Nudge struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func Dial(url string) (*Nudge, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		nudgeQueue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare %s: %w", nudgeQueue, err)
	}

	return &Nudge{conn: conn, ch: ch}, nil
}

// Publish announces that the campaign got new READY jobs.
func (n *Nudge) Publish(campaignID int) error {
	body, err := json.Marshal(map[string]int{"campaign_id": campaignID})
	if err != nil {
		return err
	}
	return n.ch.Publish(
		"",
		nudgeQueue,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
}

// Listen returns a channel that fires whenever any nudge arrives. The signal
// is coalesced: an already-pending wake-up swallows new ones.
func (n *Nudge) Listen(ctx context.Context) (<-chan struct{}, error) {
	msgs, err := n.ch.Consume(nudgeQueue, "", true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", nudgeQueue, err)
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out, nil
}

func (n *Nudge) Close() {
	if n.ch != nil {
		n.ch.Close()
	}
	if n.conn != nil {
		n.conn.Close()
	}
}
