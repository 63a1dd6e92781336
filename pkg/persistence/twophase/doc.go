// Package twophase runs two dependent writes with compensation.
//
// There is no distributed transaction: the first write is applied, then the
// second. If the second fails the first is undone once through its
// Compensate function, and the outcome is reported as
// PARTIAL_WRITE_FAILURE naming both steps and whether the undo succeeded.
//
// Steps are expected to be idempotent. A step that finds its write already
// present reports AlreadyApplied; a full replay then succeeds without side
// effects, and an already-present first write is never compensated.
package twophase
