// Package auth implements account authentication for examcore.
//
// Login verifies the bcrypt password hash, resolves the role's permission names and
// writes a CachedIdentity snapshot to Redis under "authenticated_users_data:{email}"
// before returning an HS256 access token (15 minutes) and refresh token (24 hours).
// The authorization gate in pkg/middleware reads only that snapshot; when the key
// expires or is dropped (logout, password reset, role edits) the caller must log in again.
//
// Registration creates an inactive account and mails a one-time code (pkg/otp).
// Password recovery stores the SHA256 of a random token under "reset_password:{email}"
// for 24 hours and mails the plain token as a link to the frontend.
//
// Login failures never reveal whether the email or the password was wrong, and
// forgot-password answers the same way for unknown addresses.
package auth
