package store

import (
	"context"
	"fmt"

	"github.com/go-pkgz/syncs"
)

// Check pings all gateways concurrently and returns combined errors, if any
func Check(ctx context.Context, gateways ...*Gateway) error {
	if len(gateways) == 0 {
		return nil
	}
	grp := syncs.NewErrSizedGroup(len(gateways))
	for _, gw := range gateways {
		grp.Go(func() error {
			if err := gw.Ping(ctx); err != nil {
				return fmt.Errorf("%s is not available: %w", gw.Name(), err)
			}
			return nil
		})
	}
	return grp.Wait()
}
