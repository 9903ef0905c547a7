// Package mux fans live room log entries out to attached sessions. One
// cooperative loop per process serves every subscriber: it batches all
// active rooms into a single blocking ReadMany, so round trips stay
// constant as subscribers grow. Subscribe and unsubscribe hand intents to
// the loop through a pending list merged once per iteration, keeping the
// live subscriber map single-owner.
package mux
