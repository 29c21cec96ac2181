package message

import (
	"math/rand"
	"sync/atomic"
)

// Message-ids start at a random point and wrap; uniqueness among
// in-flight confirmables on a session is the engine's responsibility.
var currentMessageID = uint32(rand.Intn(65535))

func GenerateMessageID() uint16 {
	return uint16(atomic.AddUint32(&currentMessageID, 1) % 65536)
}

func GenerateToken(l int) []byte {
	if l > MaxTokenLength {
		l = MaxTokenLength
	}
	token := make([]byte, l)
	rand.Read(token)
	return token
}
