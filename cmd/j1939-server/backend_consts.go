package main

import "time"

const (
	recorderQueueSize = 4096 // packets buffered ahead of the recorder file
	// closeFetchTimeout bounds the final delivery of packets still queued at shutdown.
	closeFetchTimeout = time.Second
)
