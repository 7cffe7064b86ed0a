package mqtt

import "errors"

// Errors returned by the client. Test with errors.Is; most are wrapped with
// the broker's reason.
var (
	ErrConnectionFailed = errors.New("mqtt: could not reach broker")
	ErrNotConnected     = errors.New("mqtt: broker connection down")

	// Argument checks, raised before anything reaches the broker.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")
	ErrInvalidQoS   = errors.New("mqtt: qos must be 0, 1 or 2")

	// Broker round trips that failed or were not acknowledged in time.
	ErrPublishFailed     = errors.New("mqtt: publish failed")
	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")
)
