// Package fs abstracts the file operations the store performs so tests can
// inject faults or observe which files a query touches.
//
//   - [LocalFS] is the production implementation over package os.
//   - [FaultyFS] injects write, sync and close failures per file pattern.
//   - [RecordingFS] records every file that is opened.
//
// Production code uses [Default].
package fs
