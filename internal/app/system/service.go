// Package system manages the lifecycle of the long-running parts of the
// application: the query API server and the conversion scheduler.
package system

import "context"

// Service is a component the Manager starts and stops. Start must return
// once the service is running; Stop must return once it has drained or ctx
// is done.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
