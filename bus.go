package rowstore

import "slices"

// Subscriber receives model changes. HandleChange runs synchronously on the
// goroutine that mutated the model, before the mutating call returns.
type Subscriber interface {
	HandleChange(chg *Change)
}

type SubscriberFunc func(chg *Change)

func (f SubscriberFunc) HandleChange(chg *Change) {
	f(chg)
}

type SubscriptionID uint64

type subscription struct {
	id      SubscriptionID
	sub     Subscriber
	flags   ChangeFlags
	removed bool
}

// Bus fans a change out to subscribers in subscription order.
//
// The subscriber list is copied on write, so subscribing or unsubscribing
// from inside HandleChange is safe: a new subscriber starts with the next
// change, and a removed one gets nothing more, even from the change being
// dispatched.
type Bus struct {
	subs   []*subscription
	lastID SubscriptionID
}

func (b *Bus) Subscribe(sub Subscriber, flags ChangeFlags) SubscriptionID {
	if sub == nil {
		panic("nil subscriber")
	}
	if flags == 0 {
		flags = ChangeFlagsAll
	}
	b.lastID++
	s := &subscription{id: b.lastID, sub: sub, flags: flags}
	b.subs = append(slices.Clip(b.subs), s)
	return s.id
}

// Unsubscribe returns false if id was not subscribed.
func (b *Bus) Unsubscribe(id SubscriptionID) bool {
	i := slices.IndexFunc(b.subs, func(s *subscription) bool { return s.id == id })
	if i < 0 {
		return false
	}
	b.subs[i].removed = true
	b.subs = slices.Delete(slices.Clone(b.subs), i, i+1)
	return true
}

func (b *Bus) Len() int {
	return len(b.subs)
}

func (b *Bus) Dispatch(chg *Change) {
	f := chg.flag()
	for _, s := range b.subs {
		if s.removed || !s.flags.ContainsAny(f) {
			continue
		}
		s.sub.HandleChange(chg)
	}
}
