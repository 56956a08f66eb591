// Package registry owns one mail client per discovered, successfully
// authenticated account and resolves caller supplied names to clients.
//
// Accounts that fail any stage of acquisition are left out of the registry
// and reported together in a Report; a Registry never hands out a client
// that is not ready.
package registry
