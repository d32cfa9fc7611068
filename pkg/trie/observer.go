package trie

// Observer receives structural notifications from a Trie. Notifications are
// delivered synchronously, in registration order, on the goroutine that
// changed the trie. An error aborts the operation that raised it.
type Observer[K comparable] interface {
	ItemIndexingStarted(item K) error
	// ItemWordIndexed reports the positions newly attached to item at n
	ItemWordIndexed(n *Node[K], item K, positions []int) error
	ItemIndexingCompleted(item K) error

	// ItemWordRemoved reports that n no longer holds item
	ItemWordRemoved(n *Node[K], item K) error
	ItemRemovalCompleted(item K) error

	// NodeCreated fires after n has been attached to its parent
	NodeCreated(n *Node[K]) error
	// NodeRemoved fires after n has been pruned from its parent
	NodeRemoved(n *Node[K]) error

	// NodeInvalidating fires before Clear discards the contents of n
	NodeInvalidating(n *Node[K])
	// NodeRestored fires after n has been populated from its Loader
	NodeRestored(n *Node[K])
}

// NopObserver implements Observer with no-ops. Embed it to handle a subset
// of notifications.
type NopObserver[K comparable] struct{}

func (NopObserver[K]) ItemIndexingStarted(K) error              { return nil }
func (NopObserver[K]) ItemWordIndexed(*Node[K], K, []int) error { return nil }
func (NopObserver[K]) ItemIndexingCompleted(K) error            { return nil }
func (NopObserver[K]) ItemWordRemoved(*Node[K], K) error        { return nil }
func (NopObserver[K]) ItemRemovalCompleted(K) error             { return nil }
func (NopObserver[K]) NodeCreated(*Node[K]) error               { return nil }
func (NopObserver[K]) NodeRemoved(*Node[K]) error               { return nil }
func (NopObserver[K]) NodeInvalidating(*Node[K])                {}
func (NopObserver[K]) NodeRestored(*Node[K])                    {}
