// Package accountstore persists authcore accounts in a SQL database through
// GORM. Postgres is used for postgres:// DSNs; anything else opens SQLite.
//
// Emails are unique case-insensitively: the normalized form is stored in its
// own uniquely indexed column, and a unique violation is reported as
// authcore.ErrDuplicate so concurrent signups for one address cannot both
// succeed.
package accountstore
