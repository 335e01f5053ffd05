// Package thingspeak talks to a ThingSpeak-compatible channel service.
//
// The client never returns errors to its callers: a failed read yields a
// nil sample and a failed write yields false. Failures are logged here so
// callers can treat both as "nothing happened this time".
package thingspeak
