// Package alerts implements the rule registry and the alert dispatcher.
// Rules are evaluated in registration order against a metrics snapshot; a
// rule that fires outside its cooldown produces one Alert, which is appended
// to a bounded log and delivered to the rule's channels. Transports live in
// package channel.
package alerts
