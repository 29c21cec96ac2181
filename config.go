package coapkit

import "time"

// Config carries every tunable of the engine. The zero value is usable:
// normalize fills each unset field with the protocol default.
type Config struct {
	AckTimeout           Ticks
	AckRandomFactorNum   uint32
	AckRandomFactorDen   uint32
	MaxRetransmit        int
	NStart               int
	MaxMessageSize       int
	PreferredBlockSize   int
	BERT                 bool
	Leisure              Ticks
	HopLimit             int
	ReceiveWindowSize    int
	SessionLifetime      time.Duration
	TransferLifetime     time.Duration
	FullySentLifetime    time.Duration
	ObserveReuseLifetime time.Duration
	ObserverLifetime     time.Duration

	// MulticastErrorReplies permits error-class responses to requests
	// received over multicast; suppressed by default.
	MulticastErrorReplies bool
}

func (c *Config) normalize() {
	if c.AckTimeout == 0 {
		c.AckTimeout = ACK_TIMEOUT
	}
	if c.AckRandomFactorNum == 0 || c.AckRandomFactorDen == 0 {
		c.AckRandomFactorNum = ACK_RANDOM_FACTOR_NUM
		c.AckRandomFactorDen = ACK_RANDOM_FACTOR_DEN
	}
	if c.MaxRetransmit == 0 {
		c.MaxRetransmit = MAX_RETRANSMIT
	}
	if c.NStart == 0 {
		c.NStart = NSTART
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = MAX_MESSAGE_SIZE
	}
	if c.PreferredBlockSize == 0 {
		c.PreferredBlockSize = MAX_PAYLOAD_SIZE
	}
	if c.Leisure == 0 {
		c.Leisure = DEFAULT_LEISURE
	}
	if c.HopLimit == 0 {
		c.HopLimit = DEFAULT_HOP_LIMIT
	}
	if c.ReceiveWindowSize == 0 {
		c.ReceiveWindowSize = RECEIVE_WINDOW_SIZE
	}
	if c.SessionLifetime == 0 {
		c.SessionLifetime = SESSIONS_POOL_EXPIRATION
	}
	if c.TransferLifetime == 0 {
		c.TransferLifetime = TRANSFERS_EXPIRATION
	}
	if c.FullySentLifetime == 0 {
		c.FullySentLifetime = FULLY_SENT_EXPIRATION
	}
	if c.ObserveReuseLifetime == 0 {
		c.ObserveReuseLifetime = OBSERVE_REUSE_EXPIRATION
	}
	if c.ObserverLifetime == 0 {
		c.ObserverLifetime = OBSERVERS_POOL_EXPIRATION
	}
}
