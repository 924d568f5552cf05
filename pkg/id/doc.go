// Package id generates the connection ids handed out by the gateway.
//
// Ids are 128 bits, time-ordered and rendered as 32 hex characters, so a
// registry listing sorted by id is also sorted by connect time.
//
//	cid := id.New().String()
package id
