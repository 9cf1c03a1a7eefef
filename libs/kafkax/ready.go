package kafkax

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// ReadyCheck dials the first reachable broker and, when topics are given,
// checks that each one has partitions. A consumer whose topic was never
// created would otherwise sit idle while the service reports ready.
func ReadyCheck(brokers string, topics ...string) func(context.Context) error {
	return func(ctx context.Context) error {
		list := SplitBrokers(brokers)
		if len(list) == 0 {
			return errors.New("kafka brokers not configured")
		}
		dialer := kafka.Dialer{Timeout: 2 * time.Second}
		var conn *kafka.Conn
		var err error
		for _, broker := range list {
			if conn, err = dialer.DialContext(ctx, "tcp", broker); err == nil {
				break
			}
		}
		if err != nil {
			return err
		}
		defer conn.Close()
		if len(topics) == 0 {
			return nil
		}
		if deadline, ok := ctx.Deadline(); ok {
			_ = conn.SetDeadline(deadline)
		}
		partitions, err := conn.ReadPartitions(topics...)
		if err != nil {
			return err
		}
		return missingTopics(topics, partitions)
	}
}

func missingTopics(topics []string, partitions []kafka.Partition) error {
	found := make(map[string]bool, len(partitions))
	for _, p := range partitions {
		found[p.Topic] = true
	}
	for _, t := range topics {
		if !found[t] {
			return fmt.Errorf("kafka topic %q not found", t)
		}
	}
	return nil
}
