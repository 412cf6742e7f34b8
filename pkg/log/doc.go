// Package log provides protocol capture for backbone connections.
//
// This package defines the Logger interface and Event types for capturing
// what crosses a connection at several layers: raw frames, decoded frames
// and coalescing flushes. It is separate from operational logging (slog).
// Capture gives a machine-readable trace for debugging and analysis.
//
// # Basic Usage
//
//	// Console during development
//	cfg.Capture = log.NewSlogAdapter(slog.Default())
//
//	// Capture file
//	fl, _ := log.NewFileLogger("/var/log/ipc/monitor.ipclog")
//	cfg.Capture = log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), fl)
//
// # Event Types
//
//   - Transport: raw frame bytes (FrameEvent)
//   - Wire: decoded frames (MessageEvent) and connection state (StateChangeEvent)
//   - Dispatch: coalescing flushes (MessageEvent on delayed_notify topics)
//
// Errors at any layer use ErrorEventData.
//
// # File Format
//
// Capture files are CBOR sequences, conventionally with the .ipclog
// extension. The ipc-log command views and summarizes them.
package log
