// Package types provides shared type definitions for the nbstore engine.
//
// This package defines domain types used across multiple components of
// nbstore, including storage tiers, content encodings, activity kinds, and
// the result/report shapes returned by maintenance operations.
//
// # Core Types
//
// StorageType describes where a file's content lives:
//
//	types.StorageLocal   // full content cached in the local store
//	types.StorageRemote  // metadata only, content fetched on demand
//	types.StorageHybrid  // metadata plus a short preview
//
// Encoding classifies file content for round-trip fidelity:
//
//	enc := types.DetectEncoding(content)
//	// types.EncodingUTF8, types.EncodingBase64, or types.EncodingBinary
//
// # Maintenance Results
//
// CleanupResult reports what a cleanup pass removed:
//
//	result, err := manager.CleanupStorage(ctx, false)
//	fmt.Printf("freed %d bytes across %d notebooks\n",
//	    result.BytesFreed, result.NotebooksDeleted)
//
// MigrationReport carries the collect-and-continue outcome of a legacy
// store import: per-item errors accumulate while the batch proceeds.
package types
