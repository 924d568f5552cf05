// Package logrecord decodes log records from the historical log and live
// batches, and defines the processed form delivered to subscribers.
//
// Identifier comparison throughout logfan goes through Canonical: entries
// are trimmed and lowercased before matching.
package logrecord
