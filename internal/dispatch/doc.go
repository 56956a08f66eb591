// Package dispatch exposes read, search and send over any resolved mail
// account, with one result shape regardless of provider.
package dispatch
