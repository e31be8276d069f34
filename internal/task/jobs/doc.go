// Package jobs holds the concrete job runners shipped with tiersched and the
// manifest format used to declare them.
//
//   - FileWriter writes lines to a file; its rollback deletes the file.
//   - Sleep waits for a duration; its rollback only counts the call.
//
// Both can be forced to fail, which is how demos and tests exercise the
// rollback path.
package jobs
