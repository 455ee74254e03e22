// Package audit provides structured audit logging for authentication and
// authorization decisions. Audit writes are best-effort: a failing sink is
// counted and logged but never fails the decision that produced the event.
package audit
