// Package timeouts defines shared timeout constants used across the service.
package timeouts

import "time"

// RouteConnect caps TCP connect time for a cross-node route call.
const RouteConnect = 1 * time.Second

// RouteRead caps the wait for a remote node's route response.
const RouteRead = 3 * time.Second

// LocalDelivery caps how long the route endpoint waits on a local socket write.
const LocalDelivery = 3 * time.Second

// RouteIdle bounds how long pooled route connections stay open.
const RouteIdle = 90 * time.Second

// HealthProbe caps a single peer health check issued by the sweeper.
const HealthProbe = 1 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long an HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second
