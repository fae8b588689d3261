// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics defines the Prometheus collectors Strata exports:
// archive index builds, forwarded helper calls, connection
// re-acquisitions, and handles open on the helper side.
//
// Collectors live on an explicit prometheus.Registry owned by the
// composition root, never the global default registry, so tests and
// multiple helpers in one process do not collide. Every method is safe
// on a nil *Metrics, which is how components run without metrics.
package metrics
