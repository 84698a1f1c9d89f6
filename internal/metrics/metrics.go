package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	OrdersPlaced      Counter
	OrdersRepriced    Counter
	ModifyFailed      Counter
	StalePrice        Counter
	SwapsExecuted     Counter
	SwapRetries       Counter
	Anomalies         Counter
	SessionsCompleted Counter
	SessionsFailed    Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		OrdersPlaced:      n,
		OrdersRepriced:    n,
		ModifyFailed:      n,
		StalePrice:        n,
		SwapsExecuted:     n,
		SwapRetries:       n,
		Anomalies:         n,
		SessionsCompleted: n,
		SessionsFailed:    n,
	}
}

// OrNoop lets components accept a nil *Metrics.
func OrNoop(m *Metrics) *Metrics {
	if m == nil {
		return NewNoop()
	}
	return m
}
