package main

import "time"

const (
	txQueueSize       = 1024 // capacity of the async TX queue (chunks)
	serialReadBufSize = 4096 // per read() buffer for the serial backend
	rxBackoffMin      = 20 * time.Millisecond
	rxBackoffMax      = 500 * time.Millisecond
)
