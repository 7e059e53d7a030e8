package client

import "time"

const (
	defaultWait = 5 * time.Second
	pollEvery   = 10 * time.Millisecond
)
