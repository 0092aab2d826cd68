package queue

import "context"

// Waker is the wake-up signal a JobDistributor listens on while backing
// off with an empty tenant: a Notify on one of its tenants' channels
// lets a BackingOff distributor cancel its timer and retry immediately
// instead of waiting out the full backoff. Enqueue does not call Notify,
// and nothing in this repository does; without a Notify caller the
// distributor waits out each backoff. Channel naming uses one channel
// per tenant, named duraq:wake:{tenant}.
type Waker interface {
	// Notify wakes any listener blocked on tenant.
	Notify(ctx context.Context, tenant string) error
	// Listen returns a channel that receives a value each time Notify
	// is called for tenant, until cancel is invoked.
	Listen(ctx context.Context, tenant string) (wake <-chan struct{}, cancel func(), err error)
}
