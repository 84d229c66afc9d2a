package execution

import (
	"context"
	"errors"
	"fmt"
	"net"

	"trade-signal-pipeline/internal/domain"
)

// Broker submits and tracks orders.
type Broker interface {
	// Submit sends order and returns the broker order id. Submitting the
	// same ClientOrderID twice must not create a second order.
	Submit(ctx context.Context, order domain.Order) (string, error)

	Status(ctx context.Context, orderID string) (*domain.OrderStatus, error)

	Cancel(ctx context.Context, orderID string) error
}

// BrokerError is an error reported by the broker.
type BrokerError struct {
	Code      string
	Message   string
	Transient bool
}

func (e *BrokerError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("broker %s error %s: %s", kind, e.Code, e.Message)
}

// IsTransient reports whether err is worth retrying: a transient broker
// error, a deadline, or a network failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var be *BrokerError
	if errors.As(err, &be) {
		return be.Transient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}
