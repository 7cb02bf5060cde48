package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"neighborly-auth/internal/util"
)

// Dispatcher hands an issued code off for delivery. Implementations must be
// safe to call concurrently. Callers treat dispatch as best-effort: a
// failure is logged, never surfaced to the phone owner.
type Dispatcher interface {
	SendOTP(ctx context.Context, phone, code string, expiresAt time.Time) error
}

type producer interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

type deliveryRequest struct {
	Phone       string    `json:"phone"`
	Code        string    `json:"code"`
	ExpiresAt   time.Time `json:"expires_at"`
	RequestedAt time.Time `json:"requested_at"`
}

// KafkaDispatcher publishes delivery requests for the downstream SMS
// gateway. The service itself never talks to an SMS provider.
type KafkaDispatcher struct {
	producer producer
	topic    string
}

func NewKafkaDispatcher(p producer, topic string) *KafkaDispatcher {
	return &KafkaDispatcher{
		producer: p,
		topic:    topic,
	}
}

func (d *KafkaDispatcher) SendOTP(ctx context.Context, phone, code string, expiresAt time.Time) error {
	payload, err := json.Marshal(deliveryRequest{
		Phone:       phone,
		Code:        code,
		ExpiresAt:   expiresAt,
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal delivery request: %w", err)
	}

	// Key by phone so retries for one number stay ordered on a partition.
	if err := d.producer.ProduceMessage(ctx, d.topic, []byte(phone), payload, map[string]string{
		"content-type": "application/json",
	}); err != nil {
		return fmt.Errorf("failed to publish delivery request: %w", err)
	}

	return nil
}

// LogDispatcher writes the code to the log instead of delivering it. Wired
// in non-production environments so local flows work without a broker.
type LogDispatcher struct{}

func NewLogDispatcher() *LogDispatcher {
	return &LogDispatcher{}
}

func (d *LogDispatcher) SendOTP(_ context.Context, phone, code string, expiresAt time.Time) error {
	util.Info("OTP delivery (log dispatcher)",
		zap.String("phone", util.MaskPhone(phone)),
		zap.String("code", code),
		zap.Time("expires_at", expiresAt))
	return nil
}
