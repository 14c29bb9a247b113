// Package hostevents feeds host-level triggers into the health monitor.
//
// On a phone the app hears about network switches and screen unlocks from
// the OS. On a Linux host the same triggers come from SIGUSR1 (user is back,
// for example a desktop unlock hook) and SIGUSR2 (network changed, for
// example a NetworkManager dispatcher script), and from polling the
// interface list.
package hostevents
