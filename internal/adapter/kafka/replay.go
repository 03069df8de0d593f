package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/couchcryptid/heat-surveillance-etl/internal/config"
	"github.com/couchcryptid/heat-surveillance-etl/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

type messageFetcher interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	Close() error
}

// partitionBacklog reads one partition up to the offset that was last when
// the replay started.
type partitionBacklog struct {
	partition int
	fetcher   messageFetcher
	end       int64 // first offset not part of the backlog
}

// Replayer reads the source topic from the earliest retained offset up to the
// high watermark observed at startup, outside the consumer group. It
// implements pipeline.BatchExtractor and returns io.EOF once every partition
// is drained. Replayed events carry no Commit.
type Replayer struct {
	parts  []*partitionBacklog
	logger *slog.Logger
}

// NewReplayer snapshots the offset range of every source partition.
func NewReplayer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Replayer, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}
	broker := cfg.KafkaBrokers[0]
	topic := cfg.KafkaSourceTopic

	conn, err := kafkago.DialContext(ctx, "tcp", broker)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", broker, err)
	}
	partitions, err := conn.ReadPartitions(topic)
	_ = conn.Close()
	if err != nil {
		return nil, fmt.Errorf("read partitions of %s: %w", topic, err)
	}

	r := &Replayer{logger: logger}
	for _, p := range partitions {
		first, last, err := partitionOffsets(ctx, broker, topic, p.ID)
		if err != nil {
			_ = r.Close()
			return nil, err
		}
		if last <= first {
			continue
		}
		reader := kafkago.NewReader(kafkago.ReaderConfig{
			Brokers:   cfg.KafkaBrokers,
			Topic:     topic,
			Partition: p.ID,
			MinBytes:  1,
			MaxBytes:  10e6,
		})
		if err := reader.SetOffset(first); err != nil {
			_ = reader.Close()
			_ = r.Close()
			return nil, fmt.Errorf("seek partition %d: %w", p.ID, err)
		}
		r.parts = append(r.parts, &partitionBacklog{partition: p.ID, fetcher: reader, end: last})
		logger.Info("replaying partition", "topic", topic, "partition", p.ID, "from", first, "to", last)
	}
	return r, nil
}

func partitionOffsets(ctx context.Context, broker, topic string, partition int) (int64, int64, error) {
	conn, err := kafkago.DialLeader(ctx, "tcp", broker, topic, partition)
	if err != nil {
		return 0, 0, fmt.Errorf("dial leader of partition %d: %w", partition, err)
	}
	defer conn.Close()

	first, last, err := conn.ReadOffsets()
	if err != nil {
		return 0, 0, fmt.Errorf("read offsets of partition %d: %w", partition, err)
	}
	return first, last, nil
}

// ExtractBatch returns up to batchSize messages from the partition being
// drained. A batch never spans two partitions.
func (r *Replayer) ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error) {
	if len(r.parts) == 0 {
		return nil, io.EOF
	}
	p := r.parts[0]

	batch := make([]domain.RawEvent, 0, batchSize)
	for len(batch) < batchSize {
		msg, err := p.fetcher.FetchMessage(ctx)
		if err != nil {
			return nil, fmt.Errorf("replay partition %d: %w", p.partition, err)
		}
		if msg.Offset < p.end {
			batch = append(batch, mapMessageToRawEvent(msg))
		}
		if msg.Offset+1 >= p.end {
			if err := p.fetcher.Close(); err != nil {
				r.logger.Warn("replay reader close failed", "partition", p.partition, "error", err)
			}
			r.parts = r.parts[1:]
			break
		}
	}

	r.logger.Debug("replay batch extracted", "partition", p.partition, "size", len(batch))
	return batch, nil
}

// Close releases the readers of partitions that were not fully drained.
func (r *Replayer) Close() error {
	var errs []error
	for _, p := range r.parts {
		errs = append(errs, p.fetcher.Close())
	}
	r.parts = nil
	return errors.Join(errs...)
}
