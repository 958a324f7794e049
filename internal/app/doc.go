// Package app composes the spendsave kernel, its modules and the services
// around them into a running application.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── httpapi/            # Read-only query API and middleware
//	├── storage/
//	│   ├── migrations/     # Schema for persisted kernel state
//	│   └── postgres/       # Snapshot store on PostgreSQL
//	└── system/             # Service lifecycle manager
//
// # Wiring
//
// New builds the kernel from config, creates every module at an address
// derived by ModuleAddress and registers each against its capability:
//
//	ledger    → CapLedger
//	savings   → CapSavings
//	hook      → CapInterceptor
//	strategy  → CapStrategy
//	batch     → CapCoordinator
//	dca       → CapConversion
//
// Start restores the last snapshot when a store is configured, then starts
// the HTTP server and, if enabled, the conversion scheduler. Shutdown stops
// them in reverse order and saves a fresh snapshot.
package app
