// Copyright (c) The tunelens Authors.
// Licensed under the MIT license.

package public_test

import (
	"context"
	"fmt"

	"github.com/tunelens/tunelens-go/apps/public"
)

// This example demonstrates the general pattern for using the client:
//   - create a client (only necessary at application start--it's best to reuse client instances)
//   - sign the user in if no credentials are stored
//   - read from the streams; the cached value comes first and a fresh one follows when it is stale
func Example() {
	ctx := context.TODO()

	cache, err := public.OpenCache(ctx, "tunelens.db")
	if err != nil {
		// TODO: handle error
	}
	client, err := public.New("client_id", public.WithStore(cache))
	if err != nil {
		// TODO: handle error
	}
	defer client.Close()

	loggedIn, err := client.LoggedIn(ctx)
	if err != nil {
		// TODO: handle error
	}
	if !loggedIn {
		if _, err := client.AcquireTokenInteractive(ctx); err != nil {
			// TODO: handle error
		}
	}

	// The stream stays open until ctx is done, so stop after the first emission here.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	for o := range client.TopTracks(ctx, public.ShortTerm, 10) {
		if !o.OK() {
			// TODO: handle error; o.Value is empty but the cache is untouched
			break
		}
		for _, t := range o.Value {
			fmt.Println(t.Rank+1, t.Name)
		}
		break
	}
}
