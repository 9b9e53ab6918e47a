// Package auth provides HTTP authentication middleware for the autoheal API.
package auth
