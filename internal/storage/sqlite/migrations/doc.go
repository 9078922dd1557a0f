// Package migrations embeds the schema migration files applied when a store opens.
//
// Projection tables defined here are disposable: they are truncated and
// regenerated wholesale on rebuild and carry no state beyond what the event
// journal implies.
package migrations
