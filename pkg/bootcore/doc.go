/*
Package bootcore implements the firmware-install protocol engine for a
secure serial bootloader: per-frame authenticate-then-decrypt-then-commit
state machines for installing firmware, reading back program memory to an
authenticated host, and handing off execution to the installed application.

This package is the host-language stand-in for a microcontroller's own
firmware. It has no notion of threads, heaps, or interrupts beyond what Go
itself provides: every engine here is a synchronous function over a small
hardware abstraction trait ([Store], [SerialChannel], [Watchdog]) so the same
engine logic can run against real hardware (a real UART and a real flash
controller) or against the in-memory test doubles in package simhal.

# Wire format

Every frame received by the install engine, in order over the HOST channel:

	tag[64] || protected[P+22] || nonce[24]

where P is the flash page size. protected is the XSalsa20 ciphertext of
(zero[32] || plaintext Frame) with its first 16 bytes stripped, following
NaCl's secretbox zero-prefix convention. The readback engine reads

	tag[64] || nonce[24] || request[8]

and streams back raw program-memory bytes with no further framing.

# Authentication

Both frames and requests are authenticated with a simple two-layer keyed
hash, not a general-purpose MAC primitive, because the host toolchain that
produces these tags is fixed and must be reproduced bit-exactly:

	tag = SHA512(key || SHA512(key || message))

Verification accepts a tag only if both 32-byte halves compare equal under a
constant-time comparator; the two halves are always both compared, even if
the first already differs, to avoid leaking which half failed through timing.

# Persistent state

Five non-volatile fields survive reset: whether the device has completed its
one-time CONFIGURED handshake, the installed firmware version (and whether
that version is "zero", meaning "unversioned, accept anything newer"), and
the byte counts of the installed image and its trailing release message.
These are accessed through the [Store] interface's KV methods; flash pages
are accessed through the same interface's page methods.
*/
package bootcore
