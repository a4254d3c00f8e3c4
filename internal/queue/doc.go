// Package queue connects workflows that hand work to one another.
//
// A trigger is a coalescing wake-up: any number of Trigger calls made while
// the consumer is busy collapse into a single pending pass. Senders never
// block.
package queue
