/*
Package simhal provides host-side implementations of bootcore's hardware
abstraction: a bbolt-backed persistent store with an AVR-style staged flash
page buffer, in-memory serial pipes for tests and local simulation, a real
serial port transport, a software watchdog with an observable reset signal,
and fixed strap pins.

The same bootcore engines run unchanged against this package and against
real hardware; simhal is what makes the protocol machine testable and what
cmd/bootloaderd runs when it is wired to a target's UART pins through a
USB-serial adapter instead of living in the target's own boot section.
*/
package simhal
