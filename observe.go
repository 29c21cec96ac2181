package coapkit

import (
	"time"

	cache "github.com/patrickmn/go-cache"

	m "github.com/coapkit/coapkit/message"
)

// A subscription is one standing observe registration: the peer asked for
// notifications on a token and we keep pushing until it resets one or
// deregisters.
type subscription struct {
	sess  *Session
	token []byte

	// lastNotifyID is the message-id of the most recent confirmable
	// notification, matched when an RST has no queue entry left.
	lastNotifyID uint16
	sequence     uint32
	alive        bool
}

func observeKey(sess *Session, token []byte) string {
	return sess.Addr + string(token)
}

// observeRegistry stores subscriptions in a TTL cache; a subscription not
// refreshed by notification activity ages out on its own.
type observeRegistry struct {
	storage *cache.Cache
	ttl     time.Duration
}

func newObserveRegistry(ttl time.Duration) *observeRegistry {
	return &observeRegistry{
		storage: cache.New(ttl, CLEANING_INTERVAL),
		ttl:     ttl,
	}
}

func (r *observeRegistry) register(sess *Session, token []byte) *subscription {
	sub := &subscription{sess: sess, token: token, alive: true}
	r.storage.SetDefault(observeKey(sess, token), sub)
	return sub
}

func (r *observeRegistry) get(sess *Session, token []byte) *subscription {
	if v, ok := r.storage.Get(observeKey(sess, token)); ok {
		return v.(*subscription)
	}
	return nil
}

func (r *observeRegistry) cancel(sess *Session, token []byte) *subscription {
	key := observeKey(sess, token)
	if v, ok := r.storage.Get(key); ok {
		r.storage.Delete(key)
		return v.(*subscription)
	}
	return nil
}

// cancelByMessageID scans for the subscription whose last notification
// carried the message-id; used when an RST arrives after the queue entry
// is already gone.
func (r *observeRegistry) cancelByMessageID(sess *Session, messageID uint16) *subscription {
	for key, item := range r.storage.Items() {
		sub := item.Object.(*subscription)
		if sub.sess == sess && sub.lastNotifyID == messageID {
			r.storage.Delete(key)
			return sub
		}
	}
	return nil
}

// cancelSession drops every subscription of a session as a batch.
func (r *observeRegistry) cancelSession(sess *Session) []*subscription {
	var canceled []*subscription
	for key, item := range r.storage.Items() {
		sub := item.Object.(*subscription)
		if sub.sess == sess {
			r.storage.Delete(key)
			canceled = append(canceled, sub)
		}
	}
	return canceled
}

// markAlive refreshes the subscription matched by the acked notification.
func (r *observeRegistry) markAlive(sess *Session, messageID uint16) {
	for _, item := range r.storage.Items() {
		sub := item.Object.(*subscription)
		if sub.sess == sess && sub.lastNotifyID == messageID {
			sub.alive = true
			r.storage.SetDefault(observeKey(sub.sess, sub.token), sub)
			return
		}
	}
}

// touch records an outgoing notification on the subscription.
func (r *observeRegistry) touch(sub *subscription, notifyID uint16) {
	sub.lastNotifyID = notifyID
	sub.sequence++
	r.storage.SetDefault(observeKey(sub.sess, sub.token), sub)
}

// IsObserveRequest reports whether the request registers an observer.
func IsObserveRequest(msg *m.CoAPMessage) bool {
	opt := msg.GetOption(m.OptionObserve)
	return opt != nil && opt.IntValue() == m.ObserveRegister && msg.Code == m.GET
}

// IsObserveCancel reports an explicit deregistration.
func IsObserveCancel(msg *m.CoAPMessage) bool {
	opt := msg.GetOption(m.OptionObserve)
	return opt != nil && opt.IntValue() == m.ObserveDeregister && msg.Code == m.GET
}
