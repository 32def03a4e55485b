// Anonymous usage analytics.
//
// Opt out with KNOWMEM_DISABLE_ANALYTICS=true. Only aggregate counts
// are reported; no message text, knowledge content or query terms ever
// leave the process.

package knowmem

import (
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/posthog/posthog-go"
)

const analyticsAPIKey = "phc_knowmem_public_write_only_key"

var (
	analyticsOnce    sync.Once
	analyticsClient  posthog.Client
	analyticsEnabled bool
	analyticsID      string
)

// initAnalytics sets up the client once per process. Failures are
// silent: telemetry must never affect the caller.
func initAnalytics() {
	analyticsOnce.Do(func() {
		if v := os.Getenv("KNOWMEM_DISABLE_ANALYTICS"); strings.EqualFold(v, "true") || v == "1" {
			analyticsEnabled = false
			return
		}
		client, err := posthog.NewWithConfig(analyticsAPIKey, posthog.Config{
			Endpoint: "https://us.i.posthog.com",
		})
		if err != nil {
			analyticsEnabled = false
			return
		}
		analyticsClient = client
		analyticsID = uuid.NewString()
		analyticsEnabled = true
	})
}

// trackEvent sends one event with common properties attached. Never
// panics and never blocks the caller beyond the enqueue.
func trackEvent(event string, properties map[string]interface{}) {
	defer func() { _ = recover() }()

	initAnalytics()
	if !analyticsEnabled || analyticsClient == nil {
		return
	}
	props := posthog.NewProperties().
		Set("version", Version).
		Set("os", runtime.GOOS).
		Set("arch", runtime.GOARCH)
	for k, v := range properties {
		props.Set(k, v)
	}
	_ = analyticsClient.Enqueue(posthog.Capture{
		DistinctId: analyticsID,
		Event:      event,
		Properties: props,
	})
}

func trackIndexBuilt(semanticRefs, terms int) {
	trackEvent("index_built", map[string]interface{}{
		"semantic_refs": semanticRefs,
		"terms":         terms,
	})
}

func trackSearch(matches int, aborted bool) {
	trackEvent("search", map[string]interface{}{
		"matches": matches,
		"aborted": aborted,
	})
}

func trackError(location string) {
	trackEvent("error", map[string]interface{}{
		"location": location,
	})
}

// closeAnalytics flushes pending events. Called by storage providers
// on Close; safe to call multiple times.
func closeAnalytics() {
	defer func() { _ = recover() }()
	if analyticsClient != nil {
		_ = analyticsClient.Close()
	}
}
