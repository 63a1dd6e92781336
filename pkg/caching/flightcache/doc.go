// Package flightcache provides a read-through cache that coalesces
// concurrent loads of the same key.
//
// Each key is EMPTY, LOADING, or READY. The first GetOrLoad for an EMPTY key
// starts a flight; callers arriving while it is LOADING wait for the same
// outcome instead of starting their own. Successful values become READY
// and are stored in a provider.Provider via a codec.Codec; failures leave
// the key EMPTY so the next call tries again.
//
//	sites, _ := flightcache.New(flightcache.Config[Site]{Name: "sites", TTL: time.Minute})
//	site, err := sites.GetOrLoad(ctx, "site:"+id, func(ctx context.Context) (Site, error) {
//		return gateway.Call(ctx, gw, "site", fetch)
//	})
//
// With a TTL, expired values are removed by Sweep, which ScheduleSweep runs
// on a cron schedule.
package flightcache
