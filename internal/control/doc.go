// Package control carries subscribe and drop notifications from the
// connection lifecycle to the fan-out engine through a durable work queue.
//
// Dispatch returns once the message is stored. A Pool leases messages,
// keeps the lease alive while the handler runs, retries failures after a
// delay and parks a message in the dead-letter set once it has failed
// MaxAttempts times.
package control
