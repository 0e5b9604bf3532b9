// Package notify carries sync lifecycle notifications from datasets to
// subscribers.
//
// Datasets emit a Notification through a Sink at every observable step of a
// sync round and of local editing. Hub is the Sink used in production: it
// queues notifications without blocking the emitter and delivers them, in
// emission order, to every current subscriber from a single Run loop.
package notify
