// Package notifications delivers flush outcomes to interested parties.
//
// The flush worker reports every persisted image through Progress and every
// failed flush through Error. Callers combine a callback sink for the
// interactive surface with the optional ntfy publisher, which forwards only
// errors, using Multi.
package notifications
