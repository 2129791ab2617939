// Package mailer provides authcore.EmailSender implementations.
//
//   - [SendGrid] delivers through the SendGrid v3 mail API.
//   - [LogSender] writes messages to a logger, for local development.
//
// # What this package must NOT do
//
//   - Decide when mail is sent; authcore calls it.
//   - Put reset tokens anywhere but the message body (SendGrid) or the
//     development log (LogSender).
package mailer
