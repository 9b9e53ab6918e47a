// Package process implements watchdog.Controller by executing the agent's
// restart command through a shell.
package process
