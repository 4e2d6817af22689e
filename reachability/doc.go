// Package reachability reports online/offline state and lets callers wait,
// with a bound, for connectivity to come back.
//
// An [Oracle] is the raw connectivity signal. [Signal] is driven by the
// host application; [Prober] derives the signal by polling a check. [Gate]
// layers the wait-for-network primitive over any Oracle.
package reachability
