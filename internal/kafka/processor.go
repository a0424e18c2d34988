// Package kafka runs the crank-request consumer: schedulers publish
// CrankRequest messages and the worker turns each into an oracle crank.
package kafka

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
	"go.uber.org/zap"

	"github.com/futarchia/futarch-backend/events/modules/proposals"
	"github.com/futarchia/futarch-backend/internal/orchestrator"
)

// RunCrankProcessor dials the broker, then consumes crank requests on a
// background goroutine until ctx is cancelled. A dial failure after three
// attempts is returned; per-message failures are logged and skipped.
func RunCrankProcessor(ctx context.Context, svc *orchestrator.Service, topic string, logger *zap.Logger) error {
	brokersEnv := os.Getenv("KAFKA_BROKERS")
	var brokers []string
	if brokersEnv != "" {
		brokers = strings.Split(brokersEnv, ",")
	} else {
		brokers = []string{"localhost:9092"}
	}

	// SASL/PLAIN over TLS when credentials are provided (managed brokers),
	// plain TCP otherwise.
	username := os.Getenv("KAFKA_API_KEY")
	password := os.Getenv("KAFKA_API_SECRET")

	var dialer *kafka.Dialer
	if username != "" && password != "" {
		mechanism := plain.Mechanism{
			Username: username,
			Password: password,
		}
		dialer = &kafka.Dialer{
			Timeout:       10 * time.Second,
			DualStack:     true,
			SASLMechanism: mechanism,
			TLS:           &tls.Config{},
		}
	} else {
		dialer = &kafka.Dialer{
			Timeout:   10 * time.Second,
			DualStack: true,
		}
	}

	var conn *kafka.Conn
	var err error
	for i := 1; i <= 3; i++ {
		logger.Info("kafka connection attempt", zap.Int("attempt", i))
		conn, err = dialer.DialContext(ctx, "tcp", brokers[0])
		if err == nil {
			conn.Close()
			break
		}
		if i < 3 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		return err
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  "futarch-backend-worker",
		Topic:    topic,
		MaxBytes: 10e6,
		Dialer:   dialer,
	})

	go func() {
		defer reader.Close()
		logger.Info("crank processor started", zap.String("topic", topic))

		for {
			select {
			case <-ctx.Done():
				return
			default:
				msg, err := reader.ReadMessage(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					continue
				}
				handleCrankRequest(ctx, svc, msg.Value, logger)
			}
		}
	}()

	return nil
}

func handleCrankRequest(ctx context.Context, svc *orchestrator.Service, payload []byte, logger *zap.Logger) {
	var req proposals.CrankRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		logger.Warn("malformed crank request", zap.Error(err))
		return
	}
	if req.ProposalRef == "" {
		logger.Warn("crank request missing proposal ref")
		return
	}

	resp, err := svc.CrankOracle(ctx, req.ProposalRef)
	if err != nil {
		logger.Warn("crank request failed",
			zap.String("proposal", req.ProposalRef),
			zap.Error(err))
		return
	}
	logger.Info("crank request handled",
		zap.String("proposal", req.ProposalRef),
		zap.String("message", resp.Message))
}
