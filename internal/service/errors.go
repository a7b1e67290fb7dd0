package service

import "fmt"

// NotFoundError reports a missing order, product or user.
type NotFoundError struct {
	Resource string
	ID       int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Resource, e.ID)
}

// ValidationError reports a malformed or incomplete request.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// AuthorizationError reports that the requesting user does not own the order.
type AuthorizationError struct {
	Message string
}

func (e *AuthorizationError) Error() string {
	return e.Message
}

// InvalidTransitionError reports a status transition the state machine
// does not allow. The current status is included in the message.
type InvalidTransitionError struct {
	Action string
	Status string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s order with status: %s", e.Action, e.Status)
}

// WindowExpiredError reports a cancellation or return requested outside its
// time window.
type WindowExpiredError struct {
	Message string
}

func (e *WindowExpiredError) Error() string {
	return e.Message
}

// RefundError reports a gateway refund failure on a path where the failure
// is fatal to the whole operation.
type RefundError struct {
	Message string
}

func (e *RefundError) Error() string {
	return e.Message
}
