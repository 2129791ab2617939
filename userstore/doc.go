// Package userstore provides authcore.UserStore implementations: [Memory]
// for development and tests, and the postgres subpackage for production.
//
// Emails are normalized with authcore.NormalizeEmail before every lookup
// and insert.
package userstore
