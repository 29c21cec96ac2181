package coapkit

import "time"

// Protocol transmission parameters (RFC 7252 §4.8), in ticks.
const (
	ACK_TIMEOUT           Ticks = 2000
	ACK_RANDOM_FACTOR_NUM       = 3 // factor 1.5 as a fixed-point fraction
	ACK_RANDOM_FACTOR_DEN       = 2
	MAX_RETRANSMIT              = 4
	NSTART                      = 1
	DEFAULT_LEISURE       Ticks = 5000
)

const (
	MAX_PAYLOAD_SIZE    = 1024 // largest single-datagram body, also the preferred block size
	MAX_MESSAGE_SIZE    = 1152
	DEFAULT_HOP_LIMIT   = 16
	RECEIVE_WINDOW_SIZE = 16 // out-of-order block ranges held per inbound transfer
)

const (
	SESSIONS_POOL_EXPIRATION  = time.Minute * 2
	TRANSFERS_EXPIRATION      = time.Second * 30 // mid-transfer inactivity grace
	FULLY_SENT_EXPIRATION     = time.Second * 10 // all blocks out, awaiting last ack
	OBSERVE_REUSE_EXPIRATION  = time.Second * 60 // kept for notification reuse
	OBSERVERS_POOL_EXPIRATION = time.Second * 60
	CLEANING_INTERVAL         = time.Second
)
