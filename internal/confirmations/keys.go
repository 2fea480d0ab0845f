package confirmations

import (
	"context"
	"sync"
	"time"
)

const (
	// TAG_LIST is the tag for listing confirmations, its keys can be reused.
	TAG_LIST = "conf"
	// TAG_DETAILS is the tag for loading a confirmation's details page, its
	// keys can be reused.
	TAG_DETAILS = "details"
	TAG_ALLOW   = "allow"
	TAG_CANCEL  = "cancel"

	// tags used by AcceptForObject
	TAG_OBJECT_LIST   = "list"
	TAG_OBJECT_ACCEPT = "accept"
)

// KeyReuseWindow is how long a key for a reusable tag is cached, measured
// from the time the key was derived for.
const KeyReuseWindow = 5 * time.Minute

// ActionTag returns the tag a key for accepting or cancelling must be derived with.
func ActionTag(accept bool) string {
	if accept {
		return TAG_ALLOW
	}
	return TAG_CANCEL
}

func reusableTag(tag string) bool {
	return tag == TAG_LIST || tag == TAG_DETAILS
}

// TimeKey is a confirmation key together with the unix time it was derived for.
type TimeKey struct {
	Time int64
	Key  string
}

// KeyProvider supplies confirmation keys when the poller has no identity
// secret to derive them from.
type KeyProvider interface {
	ConfirmationKey(ctx context.Context, tag string) (t int64, key string, err error)
}

type KeyProviderFunc func(ctx context.Context, tag string) (int64, string, error)

func (f KeyProviderFunc) ConfirmationKey(ctx context.Context, tag string) (int64, string, error) {
	return f(ctx, tag)
}

type keyResult struct {
	key TimeKey
	err error
}

// KeyRequest is a pending request for a key, it must be answered exactly once
// with Resolve or Reject, later answers are ignored.
type KeyRequest struct {
	Tag string

	once   sync.Once
	result chan keyResult
}

func newKeyRequest(tag string) *KeyRequest {
	return &KeyRequest{Tag: tag, result: make(chan keyResult, 1)}
}

func (r *KeyRequest) Resolve(t int64, key string) {
	r.once.Do(func() {
		r.result <- keyResult{key: TimeKey{Time: t, Key: key}}
	})
}

func (r *KeyRequest) Reject(err error) {
	r.once.Do(func() {
		r.result <- keyResult{err: err}
	})
}

// KeyRequests is a KeyProvider that hands every request to whoever reads
// Requests(), for callers that obtain keys from somewhere else (another
// device, a remote signer) and answer asynchronously.
type KeyRequests struct {
	requests chan *KeyRequest
}

func NewKeyRequests(buffer int) *KeyRequests {
	return &KeyRequests{requests: make(chan *KeyRequest, buffer)}
}

func (k *KeyRequests) Requests() <-chan *KeyRequest {
	return k.requests
}

func (k *KeyRequests) ConfirmationKey(ctx context.Context, tag string) (int64, string, error) {
	req := newKeyRequest(tag)

	select {
	case k.requests <- req:
	case <-ctx.Done():
		return 0, "", ctx.Err()
	}

	select {
	case res := <-req.result:
		return res.key.Time, res.key.Key, res.err
	case <-ctx.Done():
		req.Reject(ctx.Err())
		return 0, "", ctx.Err()
	}
}

// keyCache holds the last key per reusable tag.
type keyCache struct {
	mutex sync.Mutex
	keys  map[string]TimeKey
}

func newKeyCache() *keyCache {
	return &keyCache{keys: map[string]TimeKey{}}
}

func (c *keyCache) get(tag string, now time.Time) (TimeKey, bool) {
	if !reusableTag(tag) {
		return TimeKey{}, false
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	existing, ok := c.keys[tag]
	if !ok {
		return TimeKey{}, false
	}
	if now.Sub(time.Unix(existing.Time, 0)) >= KeyReuseWindow {
		return TimeKey{}, false
	}
	return existing, true
}

func (c *keyCache) put(tag string, key TimeKey) {
	if !reusableTag(tag) {
		return
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.keys[tag] = key
}
