// Package dispatcher delivers bridge signals (entity update, delete,
// discovery, state and availability) from producers to subscribers
// through a bounded worker pool.
//
// Usage:
//
//	d := dispatcher.New(log)
//	defer d.Close(ctx)
//
//	unsubscribe := d.Subscribe(dispatcher.SignalDelete, func(ev dispatcher.Event) {
//	    clearDiscovery(ev.Key)
//	})
//	defer unsubscribe()
//
//	d.Send(dispatcher.SignalDelete, "SN-001", nil)
package dispatcher
