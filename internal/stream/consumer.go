package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/san-kum/aiwater/internal/dynamo"
)

type Submitter interface {
	SubmitCost(cost float64) error
}

// CostMessage is the payload of a message on the cost topic.
type CostMessage struct {
	Cost float64 `json:"cost"`
}

type Consumer struct {
	reader MessageReader
	engine Submitter
	log    *slog.Logger
}

func NewConsumer(reader MessageReader, engine Submitter, log *slog.Logger) *Consumer {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Consumer{reader: reader, engine: engine, log: log.With(slog.String("component", "cost-consumer"))}
}

// Run consumes until ctx is done. Messages that cannot be decoded or carry
// an invalid cost are logged and committed so they are not redelivered.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch cost message: %w", err)
		}

		c.handle(msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
		}
	}
}

func (c *Consumer) handle(msg kafka.Message) {
	var cm CostMessage
	if err := json.Unmarshal(msg.Value, &cm); err != nil {
		c.log.Warn("poison cost message", "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return
	}
	if err := c.engine.SubmitCost(cm.Cost); err != nil {
		if errors.Is(err, dynamo.ErrInvalidInput) {
			c.log.Warn("invalid cost message", "partition", msg.Partition, "offset", msg.Offset, "err", err)
			return
		}
		c.log.Error("submit cost", "offset", msg.Offset, "err", err)
		return
	}
	c.log.Debug("cost submitted", "cost", cm.Cost, "offset", msg.Offset)
}
