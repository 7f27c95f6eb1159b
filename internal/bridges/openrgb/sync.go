package openrgb

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/openrgb-bridge/internal/dispatcher"
	"github.com/nerrad567/openrgb-bridge/internal/entity"
	sdk "github.com/nerrad567/openrgb-bridge/internal/openrgb"
)

// pollKey is the singleflight key shared by every device list fetch.
const pollKey = "poll"

// SyncResult summarises one sync cycle.
type SyncResult struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Removed int `json:"removed"`
}

// syncLoop polls the server every poll interval, on request, and whenever
// the server announces that its device list changed.
func (b *Bridge) syncLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	listUpdated := b.client.DeviceListUpdated()

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			b.runCycle("interval")
		case <-b.pullRequests:
			b.runCycle("requested")
		case <-listUpdated:
			b.runCycle("device list updated")
		}
	}
}

func (b *Bridge) runCycle(trigger string) {
	if _, err := b.Pull(b.ctx); err != nil {
		b.logDebug("sync cycle failed", "trigger", trigger, "error", err)
	}
}

// RequestPull asks the sync loop to poll soon without waiting for it.
// Requests made while one is pending are merged.
func (b *Bridge) RequestPull() {
	select {
	case b.pullRequests <- struct{}{}:
	default:
	}
}

// Pull runs one sync cycle now and waits for it. A call made while a
// cycle is already running joins that cycle instead of fetching again.
//
// Parameters:
//   - ctx: Bounds how long the caller waits; the shared cycle itself runs
//     until the bridge stops
//
// Returns:
//   - SyncResult: Entity counts of the cycle
//   - error: ErrFetchFailed when the server was unreachable
func (b *Bridge) Pull(ctx context.Context) (SyncResult, error) {
	select {
	case <-b.done:
		return SyncResult{}, ErrStopped
	default:
	}

	ch := b.flight.DoChan(pollKey, func() (any, error) {
		return b.poll(b.ctx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return SyncResult{}, res.Err
		}
		return res.Val.(SyncResult), nil
	case <-ctx.Done():
		return SyncResult{}, ctx.Err()
	}
}

// poll runs one sync cycle:
//
//  1. Reconnect first when offline; give up for this cycle if that fails.
//  2. Fetch the device list. On failure mark the connection lost and leave
//     the entities untouched.
//  3. Record the devices (and their LEDs when enabled) in the registry,
//     create lights for new keys and announce them.
//  4. Announce deletion of every key that vanished and ask every surviving
//     key to refresh.
func (b *Bridge) poll(ctx context.Context) (SyncResult, error) {
	b.polls.Inc()

	if !b.conn.Online() {
		if err := b.conn.Reconnect(ctx); err != nil {
			b.pollFailures.Inc()
			b.conn.Failed(err)
			return SyncResult{}, fmt.Errorf("%w: reconnect: %w", ErrFetchFailed, err)
		}
		b.conn.Recovered()
	}

	devices, err := b.client.Update(ctx)
	if err != nil {
		b.pollFailures.Inc()
		b.conn.Failed(err)
		return SyncResult{}, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	groups, targets, activeModes := b.buildGroups(devices)
	diff, err := b.registry.Apply(ctx, groups)
	if err != nil {
		b.logError("entity registry update incomplete", err)
	}

	// Removed keys first, so a key that moved between devices is never
	// deleted after its new light was created.
	for _, key := range diff.Removed {
		b.removeLight(key)
		b.bus.Publish(dispatcher.NewEvent(dispatcher.SignalDelete, key, nil))
	}

	var created []string
	for _, e := range diff.Added {
		if b.addLight(targets[e.Key], activeModes[targets[e.Key].deviceKey]) {
			created = append(created, e.Key)
		}
	}

	var refreshed int
	for _, key := range diff.Updated {
		// Entities restored from the database get their light on the first
		// poll that sees them.
		if b.addLight(targets[key], activeModes[targets[key].deviceKey]) {
			created = append(created, key)
			continue
		}
		refreshed++
		b.bus.Publish(dispatcher.NewEvent(dispatcher.SignalUpdate, key, nil))
	}

	if len(created) > 0 {
		ev := dispatcher.NewEvent(dispatcher.SignalDiscoveryNew, "", nil)
		ev.Keys = created
		b.bus.Publish(ev)
	}

	b.lastPoll.Store(time.Now())
	b.health.SetDeviceCount(b.LightCount())

	res := SyncResult{Added: len(created), Updated: refreshed, Removed: len(diff.Removed)}
	if res.Added > 0 || res.Removed > 0 {
		b.logInfo("devices synced",
			"added", res.Added,
			"updated", res.Updated,
			"removed", res.Removed,
		)
	}
	return res, nil
}

// buildGroups turns a device list into registry groups plus the light
// target of every key.
func (b *Bridge) buildGroups(devices []*sdk.Device) ([]entity.Group, map[string]lightTarget, map[string]string) {
	groups := make([]entity.Group, 0, len(devices))
	targets := make(map[string]lightTarget)
	activeModes := make(map[string]string, len(devices))
	serverUID := b.registry.Server().UniqueID

	for _, d := range devices {
		key := d.UniqueKey()
		g := entity.Group{
			Ref: d.EntityID(),
			Device: entity.Entity{
				Key:  key,
				Kind: entity.KindDevice,
				Name: d.DisplayName(),
			},
		}
		if _, dup := targets[key]; !dup {
			targets[key] = lightTarget{
				key:       key,
				uniqueID:  entity.EntityUniqueID(serverUID, key),
				name:      d.DisplayName(),
				kind:      entity.KindDevice,
				deviceKey: key,
				led:       -1,
			}
			activeModes[key] = d.ActiveModeName()
		}

		if b.addLEDs {
			for i := range d.LEDs {
				ledKey := d.LEDKey(i)
				g.LEDs = append(g.LEDs, entity.Entity{
					Key:  ledKey,
					Kind: entity.KindLED,
					Name: d.LEDDisplayName(i),
				})
				if _, dup := targets[ledKey]; !dup {
					targets[ledKey] = lightTarget{
						key:       ledKey,
						uniqueID:  entity.EntityUniqueID(serverUID, ledKey),
						name:      d.LEDDisplayName(i),
						kind:      entity.KindLED,
						deviceKey: key,
						led:       i,
					}
				}
			}
		}
		groups = append(groups, g)
	}
	return groups, targets, activeModes
}
