// Package tests owns the test catalog (tests, questions, options), the schedule
// window lookup, and answer submissions.
//
// Test detail redacts is_correct per role kind: admins see the key on every
// option, everyone else gets the same options with the field omitted.
//
// Submissions are recorded by AnswerRecorder inside one transaction. A test with
// a schedule window only accepts submissions inside it; a test in no session is
// always open. Submissions are not deduplicated.
package tests
