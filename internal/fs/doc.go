// Package fs provides filesystem abstractions for testability and fault injection.
//
//   - [LocalFS]: production implementation using the standard os package
//   - [FaultyFS]: test utility that injects I/O errors to simulate crashes
//     and partial writes during snapshot persistence
//
// Production code should use fs.Default. The package intentionally has no
// context.Context parameters: local filesystem operations are fast and
// non-interruptible at the syscall level.
package fs
