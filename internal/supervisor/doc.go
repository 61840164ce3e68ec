// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

/*
Package supervisor runs Lessongate's long-lived goroutines under a suture v4
supervisor tree.

The tree has three layers, each its own child supervisor so a crash loop in
one does not stop the others:

	lessongate
	├── data-layer       expired state cleanup
	├── messaging-layer  payment event consumer
	└── api-layer        HTTP server

A failing service is restarted with suture's decaying failure counter. Once
FailureThreshold is exceeded the layer backs off for FailureBackoff before
trying again. Lifecycle events are logged through sutureslog into the same
slog handler the rest of the process uses.

Usage:

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddDataService(services.NewCleanupService(cleaners, interval))
	tree.AddMessagingService(services.NewConsumerService(consumer))
	tree.AddAPIService(services.NewHTTPServerService(server, timeout))
	err = tree.Serve(ctx)
*/
package supervisor
