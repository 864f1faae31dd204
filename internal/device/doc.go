// Package device defines the driver-agnostic contracts the monitor uses to talk to a
// Bluetooth Low Energy radio.
//
// It contains:
//   - Advertisement and Peripheral, the scan-side view of a device
//   - Driver and Client, the capability consumed from the platform BLE stack
//   - Profile, the discovered GATT table
//   - The error taxonomy shared by scan, session and orchestrator layers
//
// Concrete drivers live in sub-packages (see go-ble).
package device
