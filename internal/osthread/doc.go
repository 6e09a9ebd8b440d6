// Package osthread reports the identity of the calling OS thread.
package osthread
