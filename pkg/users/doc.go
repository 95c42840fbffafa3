// Package users implements account administration and self-service profile edits.
//
// Accounts are soft deleted. Any change that alters what a cached identity
// carries (role, email, active flag, deletion) drops the user's session cache
// entry so the change applies on the next login.
package users
