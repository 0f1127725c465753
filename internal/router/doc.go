// Package router turns inbound MESSAGE frames into typed events for the
// handler registered on the frame's conversation.
//
// The conversation id comes from the destination header, or from the
// subscription header when the broker omits the destination. Payloads are
// decoded and validated before dispatch; anything malformed is logged and
// dropped so a bad frame can never end the session. Messages the broker
// redelivers within the dedupe window are dropped too.
package router
