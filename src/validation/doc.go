// Package validation implements the stateless checks applied to events
// received from peers before they enter the orphan buffer.
//
// Checks run in a fixed order and the first failure decides the Verdict:
// signature presence, payload size, parent consistency, birth round,
// ancientness, duplicates, and finally the signature itself. The signature is
// verified against the address book matching the event's software version.
//
// The creation time of an event can only be checked against its self-parent,
// which is not known until the event is linked. IsValidTimeCreated is
// therefore exported for the linker in package intake.
package validation
