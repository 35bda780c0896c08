package service

import (
	"context"
	"encoding/json"
	"log"

	"github.com/xiaot623/agentmesh/internal/domain"
)

// SendMessage routes a message between registered agents. An empty `to`
// broadcasts to every registered agent except the sender. The audit log is
// best-effort: a history write failure never fails the delivery.
func (s *Service) SendMessage(ctx context.Context, from, to string, content json.RawMessage) (*domain.DeliveryReceipt, error) {
	receipt, err := s.router.Send(from, to, content)
	if err != nil {
		return nil, err
	}

	if s.history != nil {
		msg := domain.Message{From: from, To: to, Content: content, Timestamp: receipt.Timestamp}
		if err := s.history.RecordMessage(ctx, msg); err != nil {
			log.Printf("WARN: failed to record message: %v", err)
		}
	}
	return receipt, nil
}
