// Package hume manages the streaming connection to the Hume.ai
// emotion-inference API for a single relay client.
package hume
